package domain

import (
	"context"
	"time"
)

// MembershipStatus is the lifecycle state of a user's membership in a room.
type MembershipStatus string

const (
	MembershipActive MembershipStatus = "ACTIVE"
	MembershipLeft   MembershipStatus = "LEFT"
)

// Rules are the per-room thresholds applied to walks scored in that room.
type Rules struct {
	RequiredInsideDistrict bool    `json:"requiredInsideDistrict"`
	MinLoopAreaM2          float64 `json:"minLoopAreaM2"`
	MinDistanceM           float64 `json:"minDistanceM"`
}

// DefaultRules are applied to rooms created lazily for a district.
func DefaultRules() Rules {
	return Rules{RequiredInsideDistrict: true}
}

// Season is the time window a room's standings cover.
type Season struct {
	WeekStart time.Time `json:"weekStart"`
	WeekEnd   time.Time `json:"weekEnd"`
}

// SeasonFor returns the Monday-to-Monday week containing t in loc.
func SeasonFor(t time.Time, loc *time.Location) Season {
	local := t.In(loc)
	offset := (int(local.Weekday()) + 6) % 7
	start := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
	return Season{WeekStart: start, WeekEnd: start.AddDate(0, 0, 7)}
}

// Room is a district-scoped gathering. ParticipantsCount always mirrors the
// number of ACTIVE memberships.
type Room struct {
	ID                string
	DistrictID        string
	IsActive          bool
	Participants      []string
	ParticipantsCount int
	Rules             Rules
	Season            Season
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Membership links a user to a room. There is at most one per (room, user).
type Membership struct {
	RoomID   string
	UserID   string
	Status   MembershipStatus
	JoinedAt time.Time
	LeftAt   *time.Time
}

// Ledger owns rooms and memberships.
type Ledger interface {
	GetOrCreateActiveRoom(ctx context.Context, districtID string) (*Room, error)
	// AddUser activates the membership and returns the recomputed participant count.
	AddUser(ctx context.Context, userID, roomID string) (int, error)
	// RemoveUser marks the membership LEFT and returns the recomputed participant count.
	RemoveUser(ctx context.Context, userID, roomID string) (int, error)
}

// DistrictLocator resolves a coordinate to the district that contains it.
type DistrictLocator interface {
	FindDistrictContaining(ctx context.Context, lat, lon float64) (string, error)
}
