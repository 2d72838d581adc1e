package domain

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/territory/internal/geometry"
)

const (
	// MinCountedDistanceM is the distance below which a walk is treated as GPS noise.
	MinCountedDistanceM = 10.0
	dailyStrikeReason   = "daily walk"
)

// FinalizeInput identifies the walk being ended.
type FinalizeInput struct {
	RoomID       string
	UserID       string
	ActivityType ActivityType
}

// WalkResult is the outcome of a finalized walk.
type WalkResult struct {
	Session        WalkSession
	StreakDays     int
	RewardPoints   int
	StrikeCredited bool
}

// FinalizerOption configures a Finalizer.
type FinalizerOption func(*Finalizer)

// WithArchiver sets where completed walks are copied after commit.
func WithArchiver(a Archiver) FinalizerOption {
	return func(f *Finalizer) {
		if a != nil {
			f.archiver = a
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) FinalizerOption {
	return func(f *Finalizer) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLogger sets the finalizer logger.
func WithLogger(logger zerolog.Logger) FinalizerOption {
	return func(f *Finalizer) {
		f.logger = logger
	}
}

// Finalizer turns a drained location buffer into a persisted walk.
type Finalizer struct {
	buffer   LocationBuffer
	walks    WalkStore
	rewards  *RewardCalculator
	archiver Archiver
	now      func() time.Time
	logger   zerolog.Logger
}

// NewFinalizer constructs a Finalizer.
func NewFinalizer(buffer LocationBuffer, walks WalkStore, rewards *RewardCalculator, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		buffer:   buffer,
		walks:    walks,
		rewards:  rewards,
		archiver: NoopArchiver{},
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize drains the buffer for the walk, scores it, and commits the session
// together with its strike and reward credits. Returns ErrEmptyBuffer when
// there is nothing to score. Samples drained before a failed commit are lost.
func (f *Finalizer) Finalize(ctx context.Context, in FinalizeInput) (*WalkResult, error) {
	samples, err := f.buffer.Drain(ctx, BufferKey{RoomID: in.RoomID, UserID: in.UserID})
	if err != nil {
		return nil, fmt.Errorf("drain buffer: %w", err)
	}
	if len(samples) == 0 {
		return nil, ErrEmptyBuffer
	}

	now := f.now().UTC()
	session := Score(samples)
	session.ID = uuid.NewString()
	session.UserID = in.UserID
	session.RoomID = in.RoomID
	session.ActivityType = in.ActivityType
	if session.ActivityType == "" {
		session.ActivityType = ActivityWalking
	}
	session.CreatedAt = now

	result := &WalkResult{Session: session}
	commit := WalkCommit{
		Session:      session,
		DayStart:     f.rewards.DayStart(now),
		StrikeReason: dailyStrikeReason,
	}
	if session.Status == WalkCompleted {
		streak, points, err := f.rewards.Calculate(ctx, in.UserID, session.DistanceM, now)
		if err != nil {
			return nil, fmt.Errorf("calculate reward: %w", err)
		}
		commit.StreakDays = streak
		commit.RewardPoints = points
		result.StreakDays = streak
	}

	committed, err := f.walks.CommitWalk(ctx, commit)
	if err != nil {
		return nil, fmt.Errorf("commit walk: %w", err)
	}
	result.StrikeCredited = committed.StrikeCredited
	result.RewardPoints = committed.RewardCredited

	if session.Status == WalkCompleted {
		if err := f.archiver.Archive(ctx, session); err != nil {
			f.logger.Warn().Err(err).Str("walk_id", session.ID).Msg("archive walk failed")
		}
	}
	return result, nil
}

// Score derives the geometry and metrics of a walk from its raw samples.
// Identity fields are left for the caller. samples must not be empty.
func Score(samples []LocationSample) WalkSession {
	first, last := samples[0], samples[len(samples)-1]

	raw := make([]geometry.Point, len(samples))
	timed := make([]geometry.Sample, len(samples))
	for i, s := range samples {
		raw[i] = s.Point()
		timed[i] = geometry.Sample{Point: raw[i], TimestampMs: s.TimestampMs}
	}
	track := geometry.Dedupe(raw, 0)

	session := WalkSession{
		StartedAt:   time.UnixMilli(first.TimestampMs).UTC(),
		EndedAt:     time.UnixMilli(last.TimestampMs).UTC(),
		DurationSec: int64(math.Max(0, math.Floor(float64(last.TimestampMs-first.TimestampMs)/1000))),
		Track:       track,
		PointsCount: len(samples),
		Status:      WalkInvalid,
	}

	if !geometry.IsValidLineString(track) {
		return session
	}
	session.Status = WalkCompleted

	if geometry.IsClosedWithin(track, geometry.DefaultClosureM) {
		ring := geometry.CloseRing(track)
		if geometry.IsValidPolygon(ring) {
			session.Polygon = ring
			session.AreaM2 = geometry.PolygonArea([][]geometry.Point{ring})
		}
	}

	distance := geometry.TotalDistance(track)
	if distance < MinCountedDistanceM {
		distance = 0
	}
	session.DistanceM = distance
	if session.DurationSec > 0 {
		session.AvgSpeedMps = distance / float64(session.DurationSec)
	}
	if distance > 0 {
		session.MaxSpeedMps = geometry.MaxSegmentSpeed(timed)
	}
	return session
}
