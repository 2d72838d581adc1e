package domain

import (
	"context"
	"fmt"
	"time"

	"example.com/territory/internal/geometry"
)

// ActivityType distinguishes walking and running sessions.
type ActivityType string

const (
	ActivityWalking ActivityType = "walking"
	ActivityRunning ActivityType = "running"
)

// WalkStatus is the outcome of scoring a walk.
type WalkStatus string

const (
	WalkCompleted WalkStatus = "completed"
	WalkInvalid   WalkStatus = "invalid"
)

// StrikeStatus is the review state of a strike record.
type StrikeStatus string

const (
	StrikeOpen      StrikeStatus = "OPEN"
	StrikeResolved  StrikeStatus = "RESOLVED"
	StrikeDismissed StrikeStatus = "DISMISSED"
)

// LocationSample is a buffered GPS fix. Samples are never persisted individually.
type LocationSample struct {
	Lng         float64 `json:"lng"`
	Lat         float64 `json:"lat"`
	TimestampMs int64   `json:"ts"`
}

// Point returns the sample's coordinate.
func (s LocationSample) Point() geometry.Point {
	return geometry.NewPoint(s.Lng, s.Lat)
}

// BufferKey scopes an in-flight sample list to one user in one room.
type BufferKey struct {
	RoomID string
	UserID string
}

func (k BufferKey) String() string {
	return fmt.Sprintf("walk:locations:%s:%s", k.RoomID, k.UserID)
}

// LocationBuffer is an append-only sample list per key with an atomic drain.
type LocationBuffer interface {
	Append(ctx context.Context, key BufferKey, sample LocationSample) error
	// Drain returns every sample for key in arrival order and deletes them in one step.
	Drain(ctx context.Context, key BufferKey) ([]LocationSample, error)
}

// WalkSession is the immutable record produced when a walk ends.
type WalkSession struct {
	ID           string
	UserID       string
	RoomID       string
	ActivityType ActivityType
	StartedAt    time.Time
	EndedAt      time.Time
	DurationSec  int64
	Track        []geometry.Point
	Polygon      []geometry.Point
	AreaM2       float64
	DistanceM    float64
	AvgSpeedMps  float64
	MaxSpeedMps  float64
	PointsCount  int
	Status       WalkStatus
	CreatedAt    time.Time
}

// StrikeRecord counts the days a user has been credited in a room.
type StrikeRecord struct {
	UserID    string
	RoomID    string
	Reason    string
	Points    int
	MaxPoint  int
	Status    StrikeStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalkCommit is everything persisted for one finalized walk in a single unit.
type WalkCommit struct {
	Session      WalkSession
	StreakDays   int
	RewardPoints int
	// DayStart is the start of the local calendar day used for the strike check.
	DayStart     time.Time
	StrikeReason string
}

// CommitResult reports which side effects a commit applied.
type CommitResult struct {
	StrikeCredited bool
	RewardCredited int
}

// Cursor models the pagination token for walk history.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// WalkHistory exposes completed walk end times for streak calculation.
type WalkHistory interface {
	CompletedWalkDays(ctx context.Context, userID string, since time.Time) ([]time.Time, error)
}

// WalkStore persists walk sessions with their strike and reward credits.
type WalkStore interface {
	WalkHistory
	// CommitWalk stores the session and, for completed walks, the strike and
	// reward credits atomically.
	CommitWalk(ctx context.Context, commit WalkCommit) (*CommitResult, error)
	ListWalksByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]WalkSession, *Cursor, error)
}

// Archiver copies a finished walk to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, session WalkSession) error
}

// NoopArchiver discards walks.
type NoopArchiver struct{}

// Archive implements Archiver.
func (NoopArchiver) Archive(context.Context, WalkSession) error { return nil }
