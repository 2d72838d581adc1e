// Package domain defines the rooms, walks, and scoring rules of the territory service.
package domain

import (
	"context"
	"errors"
)

var (
	// ErrRoomNotFound is returned when a room id does not resolve to a room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUserNotFound is returned when a user id does not resolve to a user.
	ErrUserNotFound = errors.New("user not found")
	// ErrDistrictNotFound is returned when no district contains a coordinate.
	ErrDistrictNotFound = errors.New("no district found for the given coordinates")
	// ErrEmptyBuffer is returned by the finalizer when a walk has no samples.
	ErrEmptyBuffer = errors.New("no points found")
)

// Service serves the request/response side of rooms and walk history.
type Service struct {
	ledger  Ledger
	locator DistrictLocator
	walks   WalkStore
}

// NewService constructs a Service.
func NewService(ledger Ledger, locator DistrictLocator, walks WalkStore) *Service {
	return &Service{ledger: ledger, locator: locator, walks: walks}
}

// LocateRoom resolves the district containing the coordinate and returns its
// active room, creating the room on first use.
func (s *Service) LocateRoom(ctx context.Context, lat, lon float64) (*Room, error) {
	districtID, err := s.locator.FindDistrictContaining(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	if districtID == "" {
		return nil, ErrDistrictNotFound
	}
	return s.ledger.GetOrCreateActiveRoom(ctx, districtID)
}

// ListWalksByUser fetches a user's walks with cursor pagination, newest first.
func (s *Service) ListWalksByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]WalkSession, *Cursor, error) {
	return s.walks.ListWalksByUser(ctx, userID, cursor, limit)
}
