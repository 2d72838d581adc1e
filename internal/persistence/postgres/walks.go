package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/territory/internal/domain"
	"example.com/territory/internal/events"
	"example.com/territory/internal/geometry"
	"example.com/territory/internal/observability"
)

const walkColumns = `id::text, user_id, room_id::text, activity_type, started_at, ended_at, duration_sec, track, polygon, area_m2, distance_m, avg_speed_mps, max_speed_mps, points_count, status, created_at`

// CommitWalk inserts the walk session and, for completed walks, credits the
// daily strike and reward balance. Outbox events for every applied change are
// written in the same transaction.
func (r *Repository) CommitWalk(ctx context.Context, commit domain.WalkCommit) (*domain.CommitResult, error) {
	session := commit.Session

	track, err := json.Marshal(geometry.LineString(session.Track))
	if err != nil {
		return nil, fmt.Errorf("encode track: %w", err)
	}
	var polygon []byte
	if len(session.Polygon) > 0 {
		if polygon, err = json.Marshal(geometry.Polygon(session.Polygon)); err != nil {
			return nil, fmt.Errorf("encode polygon: %w", err)
		}
	}

	var result domain.CommitResult
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		result = domain.CommitResult{}

		if _, err := tx.Exec(ctx,
			`INSERT INTO walk_sessions (id, user_id, room_id, activity_type, started_at, ended_at, duration_sec, track, polygon, area_m2, distance_m, avg_speed_mps, max_speed_mps, points_count, status, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			session.ID,
			session.UserID,
			session.RoomID,
			session.ActivityType,
			session.StartedAt,
			session.EndedAt,
			session.DurationSec,
			track,
			polygon,
			session.AreaM2,
			session.DistanceM,
			session.AvgSpeedMps,
			session.MaxSpeedMps,
			session.PointsCount,
			session.Status,
			session.CreatedAt,
		); err != nil {
			return err
		}

		if err := insertOutbox(ctx, tx, session, events.TypeWalkRecorded, events.WalkRecorded{
			WalkID:       session.ID,
			UserID:       session.UserID,
			RoomID:       session.RoomID,
			ActivityType: string(session.ActivityType),
			Status:       string(session.Status),
			StartedAt:    session.StartedAt,
			EndedAt:      session.EndedAt,
			DurationSec:  session.DurationSec,
			DistanceM:    session.DistanceM,
			AreaM2:       session.AreaM2,
			PointsCount:  session.PointsCount,
		}); err != nil {
			return err
		}

		if session.Status != domain.WalkCompleted {
			return nil
		}

		points, maxPoint, credited, err := creditStrike(ctx, tx, session, commit.StrikeReason, commit.DayStart)
		if err != nil {
			return err
		}
		if credited {
			result.StrikeCredited = true
			if err := insertOutbox(ctx, tx, session, events.TypeStrikeCredited, events.StrikeCredited{
				WalkID:     session.ID,
				UserID:     session.UserID,
				RoomID:     session.RoomID,
				Points:     points,
				MaxPoint:   maxPoint,
				OccurredAt: session.CreatedAt,
			}); err != nil {
				return err
			}
		}

		if commit.RewardPoints <= 0 {
			return nil
		}
		tag, err := tx.Exec(ctx,
			`UPDATE users SET reward_points = reward_points + $2, updated_at = NOW() WHERE id = $1`,
			session.UserID, commit.RewardPoints,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrUserNotFound
		}
		result.RewardCredited = commit.RewardPoints
		return insertOutbox(ctx, tx, session, events.TypeRewardCredited, events.RewardCredited{
			WalkID:     session.ID,
			UserID:     session.UserID,
			Points:     commit.RewardPoints,
			StreakDays: commit.StreakDays,
			OccurredAt: session.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	observability.RecordWalkPersisted(session.CreatedAt)
	return &result, nil
}

// creditStrike increments the (user, room) strike unless it was already
// touched since dayStart. The first credit creates the record.
func creditStrike(ctx context.Context, tx pgx.Tx, session domain.WalkSession, reason string, dayStart time.Time) (points, maxPoint int, credited bool, err error) {
	err = tx.QueryRow(ctx,
		`INSERT INTO strike_records (user_id, room_id, reason, points, max_point, status, created_at, updated_at)
         VALUES ($1, $2, $3, 1, 1, 'OPEN', $4, $4)
         ON CONFLICT (user_id, room_id) DO UPDATE
         SET points = strike_records.points + 1,
             max_point = GREATEST(strike_records.max_point, strike_records.points + 1),
             updated_at = EXCLUDED.updated_at
         WHERE strike_records.updated_at < $5
         RETURNING points, max_point`,
		session.UserID, session.RoomID, reason, session.CreatedAt, dayStart,
	).Scan(&points, &maxPoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return points, maxPoint, true, nil
}

// CompletedWalkDays returns end times of the user's completed walks since the given time.
func (r *Repository) CompletedWalkDays(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ended_at FROM walk_sessions WHERE user_id = $1 AND status = 'completed' AND ended_at >= $2`,
		userID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var endedAt time.Time
		if err := rows.Scan(&endedAt); err != nil {
			return nil, err
		}
		out = append(out, endedAt)
	}
	return out, rows.Err()
}

// ListWalksByUser returns walks for a user ordered by start time, newest first.
func (r *Repository) ListWalksByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.WalkSession, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + walkColumns + ` FROM walk_sessions WHERE user_id = $1`

	if cursor != nil {
		query += ` AND (started_at, id) < ($3, $4)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}

	query += ` ORDER BY started_at DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, mapError(err)
	}
	defer rows.Close()

	results := make([]domain.WalkSession, 0, limit)
	for rows.Next() {
		session, err := scanWalk(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, session)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, next, nil
}

func scanWalk(row pgx.Row) (domain.WalkSession, error) {
	var (
		s       domain.WalkSession
		track   []byte
		polygon []byte
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.RoomID, &s.ActivityType, &s.StartedAt, &s.EndedAt, &s.DurationSec, &track, &polygon, &s.AreaM2, &s.DistanceM, &s.AvgSpeedMps, &s.MaxSpeedMps, &s.PointsCount, &s.Status, &s.CreatedAt); err != nil {
		return domain.WalkSession{}, err
	}
	points, err := geometry.DecodeLineString(track)
	if err != nil {
		return domain.WalkSession{}, fmt.Errorf("decode track for walk %s: %w", s.ID, err)
	}
	s.Track = points
	if len(polygon) > 0 {
		ring, err := geometry.DecodePolygonRing(polygon)
		if err != nil {
			return domain.WalkSession{}, fmt.Errorf("decode polygon for walk %s: %w", s.ID, err)
		}
		s.Polygon = ring
	}
	return s, nil
}
