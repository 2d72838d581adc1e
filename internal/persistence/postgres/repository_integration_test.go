//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"example.com/territory/internal/domain"
	"example.com/territory/internal/geometry"
	"example.com/territory/internal/testsupport"
)

func seedUsers(t *testing.T, pool *pgxpool.Pool, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := pool.Exec(context.Background(), `INSERT INTO users (id, display_name) VALUES ($1, $1) ON CONFLICT DO NOTHING`, id)
		require.NoError(t, err)
	}
}

func seedDistrict(t *testing.T, pool *pgxpool.Pool, id string) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO districts (id, name, min_lat, min_lon, max_lat, max_lon) VALUES ($1, $1, 37.5, 126.9, 37.6, 127.0)`, id)
	require.NoError(t, err)
}

func TestLedgerAgainstPostgres(t *testing.T) {
	pool := testsupport.StartPostgres(t)
	ctx := context.Background()
	repo := NewRepository(pool, WithLocation(time.UTC))

	seedDistrict(t, pool, "jongno")
	users := make([]string, 16)
	for i := range users {
		users[i] = fmt.Sprintf("user-%02d", i)
	}
	seedUsers(t, pool, users...)

	districtID, err := repo.FindDistrictContaining(ctx, 37.55, 126.95)
	require.NoError(t, err)
	require.Equal(t, "jongno", districtID)
	_, err = repo.FindDistrictContaining(ctx, 0, 0)
	require.ErrorIs(t, err, domain.ErrDistrictNotFound)

	var g errgroup.Group
	roomIDs := make([]string, 8)
	for i := range roomIDs {
		i := i
		g.Go(func() error {
			room, err := repo.GetOrCreateActiveRoom(ctx, districtID)
			if err != nil {
				return err
			}
			roomIDs[i] = room.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for _, id := range roomIDs {
		require.Equal(t, roomIDs[0], id)
	}
	roomID := roomIDs[0]

	for _, u := range users {
		u := u
		g.Go(func() error {
			_, err := repo.AddUser(ctx, u, roomID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	room, err := repo.getRoom(ctx, roomID)
	require.NoError(t, err)
	require.Equal(t, len(users), room.ParticipantsCount)
	require.Len(t, room.Participants, len(users))
	require.True(t, room.Rules.RequiredInsideDistrict)

	count, err := repo.AddUser(ctx, users[0], roomID)
	require.NoError(t, err)
	require.Equal(t, len(users), count)

	for _, u := range users[:4] {
		u := u
		g.Go(func() error {
			_, err := repo.RemoveUser(ctx, u, roomID)
			return err
		})
	}
	require.NoError(t, g.Wait())

	count, err = repo.RemoveUser(ctx, users[0], roomID)
	require.NoError(t, err)
	require.Equal(t, len(users)-4, count)

	m, err := repo.membership(ctx, users[0], roomID)
	require.NoError(t, err)
	require.Equal(t, domain.MembershipLeft, m.Status)
	require.NotNil(t, m.LeftAt)

	count, err = repo.AddUser(ctx, users[0], roomID)
	require.NoError(t, err)
	require.Equal(t, len(users)-3, count)

	_, err = repo.AddUser(ctx, "ghost", roomID)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = repo.AddUser(ctx, users[0], uuid.NewString())
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = repo.AddUser(ctx, users[0], "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestCommitWalkAgainstPostgres(t *testing.T) {
	pool := testsupport.StartPostgres(t)
	ctx := context.Background()
	repo := NewRepository(pool, WithLocation(time.UTC))

	seedDistrict(t, pool, "jongno")
	seedUsers(t, pool, "walker")
	room, err := repo.GetOrCreateActiveRoom(ctx, "jongno")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	ring := []geometry.Point{{126.978, 37.5665}, {126.979, 37.5665}, {126.979, 37.5673}, {126.978, 37.5665}}

	walk := func(status domain.WalkStatus) domain.WalkSession {
		return domain.WalkSession{
			ID:           uuid.NewString(),
			UserID:       "walker",
			RoomID:       room.ID,
			ActivityType: domain.ActivityWalking,
			StartedAt:    now.Add(-30 * time.Minute),
			EndedAt:      now,
			DurationSec:  1800,
			Track:        ring[:3],
			Polygon:      ring,
			AreaM2:       3900,
			DistanceM:    2500,
			AvgSpeedMps:  1.4,
			PointsCount:  3,
			Status:       status,
			CreatedAt:    now,
		}
	}

	first := walk(domain.WalkCompleted)
	res, err := repo.CommitWalk(ctx, domain.WalkCommit{Session: first, RewardPoints: 2, StreakDays: 1, DayStart: dayStart, StrikeReason: "daily walk"})
	require.NoError(t, err)
	require.True(t, res.StrikeCredited)
	require.Equal(t, 2, res.RewardCredited)

	res, err = repo.CommitWalk(ctx, domain.WalkCommit{Session: walk(domain.WalkCompleted), RewardPoints: 2, DayStart: dayStart, StrikeReason: "daily walk"})
	require.NoError(t, err)
	require.False(t, res.StrikeCredited)

	res, err = repo.CommitWalk(ctx, domain.WalkCommit{Session: walk(domain.WalkInvalid), RewardPoints: 9, DayStart: dayStart})
	require.NoError(t, err)
	require.False(t, res.StrikeCredited)
	require.Zero(t, res.RewardCredited)

	strike, err := repo.getStrike(ctx, "walker", room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, strike.Points)
	require.Equal(t, domain.StrikeOpen, strike.Status)

	balance, err := repo.rewardBalance(ctx, "walker")
	require.NoError(t, err)
	require.Equal(t, 4, balance)

	days, err := repo.CompletedWalkDays(ctx, "walker", dayStart)
	require.NoError(t, err)
	require.Len(t, days, 2)

	walks, next, err := repo.ListWalksByUser(ctx, "walker", nil, 10)
	require.NoError(t, err)
	require.Len(t, walks, 3)
	require.Nil(t, next)
	for _, w := range walks {
		require.Len(t, w.Track, 3)
		if w.ID == first.ID {
			require.Equal(t, ring, w.Polygon)
		}
	}

	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&outboxCount))
	// three walk.recorded, one strike.credited, two reward.credited
	require.Equal(t, 6, outboxCount)

	ghost := walk(domain.WalkCompleted)
	ghost.UserID = "ghost"
	_, err = repo.CommitWalk(ctx, domain.WalkCommit{Session: ghost, DayStart: dayStart})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}
