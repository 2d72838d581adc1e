package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubBuffer struct {
	mu      sync.Mutex
	samples map[BufferKey][]LocationSample
	err     error
}

func newStubBuffer() *stubBuffer {
	return &stubBuffer{samples: make(map[BufferKey][]LocationSample)}
}

func (b *stubBuffer) Append(_ context.Context, key BufferKey, sample LocationSample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[key] = append(b.samples[key], sample)
	return nil
}

func (b *stubBuffer) Drain(_ context.Context, key BufferKey) ([]LocationSample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	out := b.samples[key]
	delete(b.samples, key)
	return out, nil
}

type strikeKey struct{ user, room string }

type stubWalkStore struct {
	commits      []WalkCommit
	strikes      map[strikeKey]int
	strikeTouch  map[strikeKey]time.Time
	rewards      map[string]int
	completedEnd []time.Time
	commitErr    error
}

func newStubWalkStore() *stubWalkStore {
	return &stubWalkStore{
		strikes:     make(map[strikeKey]int),
		strikeTouch: make(map[strikeKey]time.Time),
		rewards:     make(map[string]int),
	}
}

func (s *stubWalkStore) CompletedWalkDays(_ context.Context, _ string, since time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, t := range s.completedEnd {
		if !t.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubWalkStore) CommitWalk(_ context.Context, commit WalkCommit) (*CommitResult, error) {
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	s.commits = append(s.commits, commit)
	res := &CommitResult{}
	if commit.Session.Status != WalkCompleted {
		return res, nil
	}
	s.completedEnd = append(s.completedEnd, commit.Session.EndedAt)
	key := strikeKey{commit.Session.UserID, commit.Session.RoomID}
	if touched, ok := s.strikeTouch[key]; !ok || touched.Before(commit.DayStart) {
		s.strikes[key]++
		s.strikeTouch[key] = commit.Session.CreatedAt
		res.StrikeCredited = true
	}
	if commit.RewardPoints > 0 {
		s.rewards[commit.Session.UserID] += commit.RewardPoints
		res.RewardCredited = commit.RewardPoints
	}
	return res, nil
}

func (s *stubWalkStore) ListWalksByUser(context.Context, string, *Cursor, int) ([]WalkSession, *Cursor, error) {
	return nil, nil, nil
}

type stubArchiver struct {
	archived []string
	err      error
}

func (a *stubArchiver) Archive(_ context.Context, session WalkSession) error {
	a.archived = append(a.archived, session.ID)
	return a.err
}

var testNow = time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)

func newTestFinalizer(buf *stubBuffer, store *stubWalkStore, opts ...FinalizerOption) *Finalizer {
	calc := NewRewardCalculator(store, time.UTC)
	opts = append([]FinalizerOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewFinalizer(buf, store, calc, opts...)
}

func fill(t *testing.T, buf *stubBuffer, key BufferKey, coords [][2]float64, stepMs int64) {
	t.Helper()
	start := testNow.Add(-time.Hour).UnixMilli()
	for i, c := range coords {
		require.NoError(t, buf.Append(context.Background(), key, LocationSample{
			Lng: c[0], Lat: c[1], TimestampMs: start + int64(i)*stepMs,
		}))
	}
}

// small loop, roughly 88m x 89m
var smallLoop = [][2]float64{
	{126.9780, 37.5665},
	{126.9790, 37.5665},
	{126.9790, 37.5673},
	{126.9780, 37.5673},
	{126.97801, 37.56651},
}

// larger loop, roughly 350m x 300m
var kilometreLoop = [][2]float64{
	{126.9780, 37.5665},
	{126.9820, 37.5665},
	{126.9820, 37.5692},
	{126.9780, 37.5692},
	{126.97801, 37.56651},
}

func TestFinalizeEmptyBuffer(t *testing.T) {
	store := newStubWalkStore()
	f := newTestFinalizer(newStubBuffer(), store)

	_, err := f.Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.ErrorIs(t, err, ErrEmptyBuffer)
	require.Empty(t, store.commits)
}

func TestFinalizeSingleSampleIsInvalid(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	fill(t, buf, key, [][2]float64{{0, 0}}, 1000)

	res, err := newTestFinalizer(buf, store).Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, WalkInvalid, res.Session.Status)
	require.Equal(t, 1, res.Session.PointsCount)
	require.Zero(t, res.Session.DistanceM)
	require.Zero(t, res.Session.AreaM2)
	require.Equal(t, ActivityWalking, res.Session.ActivityType)
	require.False(t, res.StrikeCredited)
	require.Len(t, store.commits, 1)
	require.Empty(t, store.strikes)
}

func TestFinalizeDuplicatePointsCollapseToInvalid(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	fill(t, buf, key, [][2]float64{{1, 1}, {1, 1}, {1, 1}}, 5000)

	res, err := newTestFinalizer(buf, store).Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, WalkInvalid, res.Session.Status)
	require.Equal(t, 3, res.Session.PointsCount)
	require.Len(t, res.Session.Track, 1)
	require.EqualValues(t, 10, res.Session.DurationSec)
}

func TestFinalizeClosedLoopCompletes(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	archiver := &stubArchiver{}
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	fill(t, buf, key, smallLoop, 30_000)

	f := newTestFinalizer(buf, store, WithArchiver(archiver))
	res, err := f.Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1", ActivityType: ActivityRunning})
	require.NoError(t, err)

	s := res.Session
	require.Equal(t, WalkCompleted, s.Status)
	require.Equal(t, ActivityRunning, s.ActivityType)
	require.Equal(t, 5, s.PointsCount)
	require.Greater(t, s.AreaM2, 0.0)
	require.Len(t, s.Polygon, 6)
	require.Equal(t, s.Polygon[0], s.Polygon[len(s.Polygon)-1])
	require.Greater(t, s.DistanceM, 300.0)
	require.EqualValues(t, 120, s.DurationSec)
	require.InDelta(t, s.DistanceM/120, s.AvgSpeedMps, 1e-9)
	require.Greater(t, s.MaxSpeedMps, 0.0)
	require.NotEmpty(t, s.ID)
	require.True(t, res.StrikeCredited)
	require.Zero(t, res.RewardPoints)
	require.Equal(t, []string{s.ID}, archiver.archived)
	require.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), store.commits[0].DayStart)
}

func TestFinalizeStrikeOncePerDay(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	f := newTestFinalizer(buf, store)

	fill(t, buf, key, smallLoop, 1000)
	first, err := f.Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.True(t, first.StrikeCredited)

	fill(t, buf, key, smallLoop, 1000)
	second, err := f.Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, WalkCompleted, second.Session.Status)
	require.False(t, second.StrikeCredited)
	require.Equal(t, 1, store.strikes[strikeKey{"u1", "r1"}])
}

func TestFinalizeCreditsReward(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	fill(t, buf, key, kilometreLoop, 60_000)

	res, err := newTestFinalizer(buf, store).Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Greater(t, res.Session.DistanceM, 1000.0)
	require.Less(t, res.Session.DistanceM, 2000.0)
	require.Equal(t, 1, res.StreakDays)
	require.Equal(t, 1, res.RewardPoints)
	require.Equal(t, 1, store.rewards["u1"])
}

func TestFinalizeShortTrackClampsDistance(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	fill(t, buf, key, [][2]float64{{127.0, 37.5}, {127.00001, 37.5}, {127.00002, 37.5}}, 1000)

	res, err := newTestFinalizer(buf, store).Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, WalkCompleted, res.Session.Status)
	require.Zero(t, res.Session.DistanceM)
	require.Zero(t, res.Session.AvgSpeedMps)
	require.Zero(t, res.RewardPoints)
}

func TestFinalizeSecondCallReportsEmpty(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	fill(t, buf, key, smallLoop, 1000)
	f := newTestFinalizer(buf, store)

	_, err := f.Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	_, err = f.Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.ErrorIs(t, err, ErrEmptyBuffer)
	require.Len(t, store.commits, 1)
}

func TestFinalizeCommitFailureDropsBuffer(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	store.commitErr = errors.New("db down")
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	fill(t, buf, key, smallLoop, 1000)

	_, err := newTestFinalizer(buf, store).Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmptyBuffer)

	samples, err := buf.Drain(context.Background(), key)
	require.NoError(t, err)
	require.Empty(t, samples)
}

func TestFinalizeArchiveFailureIsNotFatal(t *testing.T) {
	buf := newStubBuffer()
	store := newStubWalkStore()
	key := BufferKey{RoomID: "r1", UserID: "u1"}
	fill(t, buf, key, smallLoop, 1000)

	res, err := newTestFinalizer(buf, store, WithArchiver(&stubArchiver{err: errors.New("s3 down")})).
		Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, WalkCompleted, res.Session.Status)
}

func TestFinalizeDrainError(t *testing.T) {
	buf := newStubBuffer()
	buf.err = errors.New("redis down")
	_, err := newTestFinalizer(buf, newStubWalkStore()).Finalize(context.Background(), FinalizeInput{RoomID: "r1", UserID: "u1"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEmptyBuffer)
}
