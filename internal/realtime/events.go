// Package realtime serves the websocket surface walkers use to share a room
// and record walks.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound events.
const (
	EventJoinRoom  = "join-room"
	EventWalkStart = "walk:start"
	EventWalkEnd   = "walk:end"
	EventLeaveRoom = "leave-room"
)

// Outbound events.
const (
	EventJoinedRoom       = "joined-room"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventUserDisconnected = "user-disconnected"
	EventLocationUpdate   = "location-update"
	EventWalkResult       = "walk:result"
	EventError            = "error"
)

// Messages returned to the caller.
const (
	msgNotInRoom       = "User or room not set"
	msgJoinFailed      = "Failed to join room"
	msgLeaveFailed     = "Failed to leave room"
	msgLocationFailed  = "Failed to update location"
	msgNoPoints        = "No points found"
	msgSaveFailed      = "Failed to save walk"
	msgRoomNotFound    = "Room not found"
	msgUserNotFound    = "User not found"
	msgTooManyEvents   = "Too many events"
	msgMalformedFrame  = "Malformed message"
	msgInternalFailure = "Internal error"
)

var (
	// ErrNotInRoom is returned for room-scoped events on a session without a room.
	ErrNotInRoom = errors.New("session has not joined a room")
	// ErrSessionClosed is returned once the connection has been cleaned up.
	ErrSessionClosed = errors.New("session closed")
)

// ValidationError reports a payload that failed validation. The session is unchanged.
type ValidationError struct {
	Event string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Event, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoomPayload is the join-room body.
type JoinRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

// WalkStartPayload is one GPS fix. Pointers distinguish a missing coordinate from zero.
type WalkStartPayload struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

// WalkEndPayload is the walk:end body.
type WalkEndPayload struct {
	ActivityType string `json:"activityType" validate:"omitempty,oneof=walking running"`
}

// JoinedRoom acknowledges a join for a room the session already belongs to.
type JoinedRoom struct {
	RoomID string `json:"roomId"`
}

// MemberEvent is broadcast on join, leave and disconnect.
type MemberEvent struct {
	UserID            string    `json:"userId"`
	DisplayName       string    `json:"displayName,omitempty"`
	ParticipantsCount int       `json:"participantsCount"`
	Message           string    `json:"message"`
	Timestamp         time.Time `json:"timestamp"`
}

// LocationUpdate is broadcast for every accepted walk:start.
type LocationUpdate struct {
	UserID    string    `json:"userId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// WalkResult is sent to the caller after walk:end.
type WalkResult struct {
	OK           bool    `json:"ok"`
	LocationID   string  `json:"locationId,omitempty"`
	PointsCount  int     `json:"pointsCount,omitempty"`
	Status       string  `json:"status,omitempty"`
	DistanceM    float64 `json:"distanceM,omitempty"`
	AreaM2       float64 `json:"areaM2,omitempty"`
	RewardPoints int     `json:"rewardPoints,omitempty"`
	Message      string  `json:"message,omitempty"`
}

// ErrorEvent carries a failure message to the caller.
type ErrorEvent struct {
	Message string `json:"message"`
}

var validate = validator.New()

// decodePayload unmarshals data into dst and validates it. Empty data decodes as {}.
func decodePayload(event string, data json.RawMessage, dst interface{}) error {
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, dst); err != nil {
			return &ValidationError{Event: event, Err: err}
		}
	}
	if err := validate.Struct(dst); err != nil {
		return &ValidationError{Event: event, Err: err}
	}
	return nil
}

func encodeEnvelope(event string, data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: body})
}
