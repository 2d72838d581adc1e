// Package events defines the payloads published for walk outcomes.
package events

import "time"

// Event types written to the outbox.
const (
	TypeWalkRecorded   = "walk.recorded"
	TypeStrikeCredited = "strike.credited"
	TypeRewardCredited = "reward.credited"
)

// WalkRecorded is emitted once per persisted walk session.
type WalkRecorded struct {
	WalkID       string    `json:"walk_id"`
	UserID       string    `json:"user_id"`
	RoomID       string    `json:"room_id"`
	ActivityType string    `json:"activity_type"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationSec  int64     `json:"duration_sec"`
	DistanceM    float64   `json:"distance_m"`
	AreaM2       float64   `json:"area_m2"`
	PointsCount  int       `json:"points_count"`
}

// StrikeCredited is emitted when a completed walk earns the day's strike.
type StrikeCredited struct {
	WalkID     string    `json:"walk_id"`
	UserID     string    `json:"user_id"`
	RoomID     string    `json:"room_id"`
	Points     int       `json:"points"`
	MaxPoint   int       `json:"max_point"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RewardCredited is emitted when reward points are added to a user's balance.
type RewardCredited struct {
	WalkID     string    `json:"walk_id"`
	UserID     string    `json:"user_id"`
	Points     int       `json:"points"`
	StreakDays int       `json:"streak_days"`
	OccurredAt time.Time `json:"occurred_at"`
}
