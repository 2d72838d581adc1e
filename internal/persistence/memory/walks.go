package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/territory/internal/domain"
)

type strikeKey struct {
	userID string
	roomID string
}

// WalkStore is an in-memory domain.WalkStore.
type WalkStore struct {
	mu      sync.RWMutex
	walks   map[string]domain.WalkSession
	strikes map[strikeKey]*domain.StrikeRecord
	rewards map[string]int
}

// NewWalkStore constructs an empty WalkStore.
func NewWalkStore() *WalkStore {
	return &WalkStore{
		walks:   make(map[string]domain.WalkSession),
		strikes: make(map[strikeKey]*domain.StrikeRecord),
		rewards: make(map[string]int),
	}
}

// CommitWalk implements domain.WalkStore.
func (s *WalkStore) CommitWalk(_ context.Context, commit domain.WalkCommit) (*domain.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := commit.Session
	s.walks[session.ID] = session

	result := &domain.CommitResult{}
	if session.Status != domain.WalkCompleted {
		return result, nil
	}

	key := strikeKey{userID: session.UserID, roomID: session.RoomID}
	strike, ok := s.strikes[key]
	switch {
	case !ok:
		s.strikes[key] = &domain.StrikeRecord{
			UserID:    session.UserID,
			RoomID:    session.RoomID,
			Reason:    commit.StrikeReason,
			Points:    1,
			MaxPoint:  1,
			Status:    domain.StrikeOpen,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.CreatedAt,
		}
		result.StrikeCredited = true
	case strike.UpdatedAt.Before(commit.DayStart):
		strike.Points++
		if strike.Points > strike.MaxPoint {
			strike.MaxPoint = strike.Points
		}
		strike.UpdatedAt = session.CreatedAt
		result.StrikeCredited = true
	}

	if commit.RewardPoints > 0 {
		s.rewards[session.UserID] += commit.RewardPoints
		result.RewardCredited = commit.RewardPoints
	}
	return result, nil
}

// CompletedWalkDays implements domain.WalkHistory.
func (s *WalkStore) CompletedWalkDays(_ context.Context, userID string, since time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []time.Time
	for _, w := range s.walks {
		if w.UserID == userID && w.Status == domain.WalkCompleted && !w.EndedAt.Before(since) {
			out = append(out, w.EndedAt)
		}
	}
	return out, nil
}

// ListWalksByUser implements domain.WalkStore.
func (s *WalkStore) ListWalksByUser(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.WalkSession, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []domain.WalkSession
	for _, w := range s.walks {
		if w.UserID == userID {
			all = append(all, w)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	results := make([]domain.WalkSession, 0, limit)
	for _, w := range all {
		if cursor != nil && !before(w, cursor) {
			continue
		}
		results = append(results, w)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, next, nil
}

// Strike returns a copy of the (user, room) strike record, or nil.
func (s *WalkStore) Strike(userID, roomID string) *domain.StrikeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	strike, ok := s.strikes[strikeKey{userID: userID, roomID: roomID}]
	if !ok {
		return nil
	}
	out := *strike
	return &out
}

// RewardBalance returns the user's accumulated reward points.
func (s *WalkStore) RewardBalance(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rewards[userID]
}

// WalkCount returns the number of stored walks.
func (s *WalkStore) WalkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.walks)
}

// before reports whether w sorts strictly after the cursor position in
// newest-first order.
func before(w domain.WalkSession, c *domain.Cursor) bool {
	if w.StartedAt.Equal(c.StartedAt) {
		return w.ID < c.ID
	}
	return w.StartedAt.Before(c.StartedAt)
}
