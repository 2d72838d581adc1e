// Package memory holds in-process implementations of the domain stores for
// local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/territory/internal/domain"
)

type membershipKey struct {
	roomID string
	userID string
}

// Ledger is an in-memory domain.Ledger.
type Ledger struct {
	mu          sync.RWMutex
	rooms       map[string]*domain.Room
	active      map[string]string // district id -> active room id
	memberships map[membershipKey]*domain.Membership
	users       map[string]struct{}
	loc         *time.Location
	now         func() time.Time
}

// NewLedger constructs an empty Ledger. When users is non-empty, AddUser
// rejects ids outside that set with domain.ErrUserNotFound.
func NewLedger(loc *time.Location, users ...string) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	l := &Ledger{
		rooms:       make(map[string]*domain.Room),
		active:      make(map[string]string),
		memberships: make(map[membershipKey]*domain.Membership),
		users:       make(map[string]struct{}),
		loc:         loc,
		now:         time.Now,
	}
	for _, u := range users {
		l.users[u] = struct{}{}
	}
	return l
}

// GetOrCreateActiveRoom implements domain.Ledger.
func (l *Ledger) GetOrCreateActiveRoom(_ context.Context, districtID string) (*domain.Room, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.active[districtID]; ok {
		return cloneRoom(l.rooms[id]), nil
	}

	now := l.now().UTC()
	room := &domain.Room{
		ID:           uuid.NewString(),
		DistrictID:   districtID,
		IsActive:     true,
		Participants: []string{},
		Rules:        domain.DefaultRules(),
		Season:       domain.SeasonFor(now, l.loc),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	l.rooms[room.ID] = room
	l.active[districtID] = room.ID
	return cloneRoom(room), nil
}

// AddUser implements domain.Ledger.
func (l *Ledger) AddUser(_ context.Context, userID, roomID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[roomID]
	if !ok {
		return 0, domain.ErrRoomNotFound
	}
	if len(l.users) > 0 {
		if _, ok := l.users[userID]; !ok {
			return 0, domain.ErrUserNotFound
		}
	}

	now := l.now().UTC()
	key := membershipKey{roomID: roomID, userID: userID}
	m, ok := l.memberships[key]
	switch {
	case !ok:
		l.memberships[key] = &domain.Membership{RoomID: roomID, UserID: userID, Status: domain.MembershipActive, JoinedAt: now}
	case m.Status != domain.MembershipActive:
		m.Status = domain.MembershipActive
		m.LeftAt = nil
	}

	if !contains(room.Participants, userID) {
		room.Participants = append(room.Participants, userID)
	}
	return l.recount(room, now), nil
}

// RemoveUser implements domain.Ledger.
func (l *Ledger) RemoveUser(_ context.Context, userID, roomID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[roomID]
	if !ok {
		return 0, domain.ErrRoomNotFound
	}

	now := l.now().UTC()
	if m, ok := l.memberships[membershipKey{roomID: roomID, userID: userID}]; ok && m.Status == domain.MembershipActive {
		m.Status = domain.MembershipLeft
		left := now
		m.LeftAt = &left
	}

	kept := room.Participants[:0]
	for _, p := range room.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	room.Participants = kept
	return l.recount(room, now), nil
}

// Room returns a copy of the room, or domain.ErrRoomNotFound.
func (l *Ledger) Room(roomID string) (*domain.Room, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	room, ok := l.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

// Memberships returns every membership row for the room ordered by user id.
func (l *Ledger) Memberships(roomID string) []domain.Membership {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.Membership
	for key, m := range l.memberships {
		if key.roomID == roomID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (l *Ledger) recount(room *domain.Room, now time.Time) int {
	count := 0
	for key, m := range l.memberships {
		if key.roomID == room.ID && m.Status == domain.MembershipActive {
			count++
		}
	}
	room.ParticipantsCount = count
	room.UpdatedAt = now
	return count
}

func cloneRoom(room *domain.Room) *domain.Room {
	out := *room
	out.Participants = append([]string(nil), room.Participants...)
	return &out
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}
