//go:build integration

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/territory/internal/domain"
)

// getRoom fetches a room by id.
func (r *Repository) getRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	if !validRoomID(roomID) {
		return nil, domain.ErrRoomNotFound
	}
	room, err := scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, mapError(err)
	}
	return room, nil
}

// membership returns the user's membership row in the room, or nil.
func (r *Repository) membership(ctx context.Context, userID, roomID string) (*domain.Membership, error) {
	if !validRoomID(roomID) {
		return nil, nil
	}
	var m domain.Membership
	err := r.pool.QueryRow(ctx,
		`SELECT room_id::text, user_id, status, joined_at, left_at FROM room_memberships WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&m.RoomID, &m.UserID, &m.Status, &m.JoinedAt, &m.LeftAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return &m, nil
}

// getStrike returns the strike record for (user, room), or nil.
func (r *Repository) getStrike(ctx context.Context, userID, roomID string) (*domain.StrikeRecord, error) {
	var s domain.StrikeRecord
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, room_id::text, reason, points, max_point, status, created_at, updated_at
           FROM strike_records WHERE user_id = $1 AND room_id = $2`,
		userID, roomID,
	).Scan(&s.UserID, &s.RoomID, &s.Reason, &s.Points, &s.MaxPoint, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return &s, nil
}

// rewardBalance returns the user's accumulated reward points.
func (r *Repository) rewardBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `SELECT reward_points FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrUserNotFound
	}
	return balance, err
}
