package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/territory/internal/domain"
)

const roomColumns = `id::text, district_id, is_active, participants, participants_count, rules, season_week_start, season_week_end, created_at, updated_at`

// GetOrCreateActiveRoom returns the district's active room, creating it if none
// exists. Concurrent callers converge on the same row through the partial
// unique index on active rooms.
func (r *Repository) GetOrCreateActiveRoom(ctx context.Context, districtID string) (*domain.Room, error) {
	season := domain.SeasonFor(r.now(), r.loc)
	query := `INSERT INTO rooms (district_id, rules, season_week_start, season_week_end)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (district_id) WHERE is_active
        DO UPDATE SET district_id = EXCLUDED.district_id
        RETURNING ` + roomColumns

	var room *domain.Room
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var scanErr error
		room, scanErr = scanRoom(tx.QueryRow(ctx, query, districtID, domain.DefaultRules(), season.WeekStart, season.WeekEnd))
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// AddUser activates the user's membership in the room and returns the number
// of ACTIVE memberships afterwards.
func (r *Repository) AddUser(ctx context.Context, userID, roomID string) (int, error) {
	var count int
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockRoom(ctx, tx, roomID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO room_memberships (room_id, user_id, status, joined_at)
             VALUES ($1, $2, 'ACTIVE', NOW())
             ON CONFLICT (room_id, user_id) DO UPDATE
             SET status = 'ACTIVE', left_at = NULL
             WHERE room_memberships.status <> 'ACTIVE'`,
			roomID, userID,
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE rooms SET participants = array_append(participants, $2)
             WHERE id = $1 AND NOT ($2 = ANY(participants))`,
			roomID, userID,
		); err != nil {
			return err
		}

		var err error
		count, err = recountParticipants(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RemoveUser marks the user's membership LEFT and returns the number of ACTIVE
// memberships afterwards. Removing a user who is not active is a no-op.
func (r *Repository) RemoveUser(ctx context.Context, userID, roomID string) (int, error) {
	var count int
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockRoom(ctx, tx, roomID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE room_memberships SET status = 'LEFT', left_at = NOW()
             WHERE room_id = $1 AND user_id = $2 AND status = 'ACTIVE'`,
			roomID, userID,
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE rooms SET participants = array_remove(participants, $2) WHERE id = $1`,
			roomID, userID,
		); err != nil {
			return err
		}

		var err error
		count, err = recountParticipants(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// lockRoom serialises membership changes per room for the rest of the transaction.
func lockRoom(ctx context.Context, tx pgx.Tx, roomID string) error {
	if !validRoomID(roomID) {
		return domain.ErrRoomNotFound
	}
	var id string
	err := tx.QueryRow(ctx, `SELECT id::text FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrRoomNotFound
	}
	return err
}

// recountParticipants derives participants_count from ACTIVE memberships.
func recountParticipants(ctx context.Context, tx pgx.Tx, roomID string) (int, error) {
	var count int
	err := tx.QueryRow(ctx,
		`UPDATE rooms
            SET participants_count = (SELECT COUNT(*) FROM room_memberships WHERE room_id = $1 AND status = 'ACTIVE'),
                updated_at = NOW()
          WHERE id = $1
      RETURNING participants_count`,
		roomID,
	).Scan(&count)
	return count, err
}

func validRoomID(roomID string) bool {
	_, err := uuid.Parse(roomID)
	return err == nil
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var (
		room        domain.Room
		weekStart   *time.Time
		weekEnd     *time.Time
		participant []string
	)
	if err := row.Scan(&room.ID, &room.DistrictID, &room.IsActive, &participant, &room.ParticipantsCount, &room.Rules, &weekStart, &weekEnd, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	room.Participants = participant
	if weekStart != nil {
		room.Season.WeekStart = *weekStart
	}
	if weekEnd != nil {
		room.Season.WeekEnd = *weekEnd
	}
	return &room, nil
}
