package domain

import (
	"context"
	"math"
	"time"
)

const (
	streakWindowDays     = 7
	streakBonusPerDay    = 0.05
	maxRewardMultiplier  = 1.5
	metersPerRewardPoint = 1000
)

// RewardPoints converts a walk distance and streak into reward points.
// Every full kilometre earns one point, boosted 5% per streak day up to 1.5x.
func RewardPoints(distanceM float64, streakDays int) int {
	base := math.Floor(distanceM / metersPerRewardPoint)
	if base <= 0 {
		return 0
	}
	multiplier := math.Min(1+streakBonusPerDay*float64(streakDays), maxRewardMultiplier)
	return int(math.Round(base * multiplier))
}

// RewardCalculator derives streaks from completed walk history.
type RewardCalculator struct {
	history WalkHistory
	loc     *time.Location
	now     func() time.Time
}

// NewRewardCalculator constructs a RewardCalculator that buckets days in loc.
func NewRewardCalculator(history WalkHistory, loc *time.Location) *RewardCalculator {
	if loc == nil {
		loc = time.Local
	}
	return &RewardCalculator{history: history, loc: loc, now: time.Now}
}

// StreakDays counts consecutive local days ending today with at least one
// completed walk, looking back at most seven days.
func (c *RewardCalculator) StreakDays(ctx context.Context, userID string) (int, error) {
	return c.streak(ctx, userID, c.now(), false)
}

// Calculate returns the streak and reward for a walk completed at completedAt.
// The walk being scored counts toward its own day.
func (c *RewardCalculator) Calculate(ctx context.Context, userID string, distanceM float64, completedAt time.Time) (streakDays, rewardPoints int, err error) {
	streakDays, err = c.streak(ctx, userID, completedAt, true)
	if err != nil {
		return 0, 0, err
	}
	return streakDays, RewardPoints(distanceM, streakDays), nil
}

// DayStart returns local midnight of the day containing t.
func (c *RewardCalculator) DayStart(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// Location returns the zone days are bucketed in.
func (c *RewardCalculator) Location() *time.Location {
	return c.loc
}

func (c *RewardCalculator) streak(ctx context.Context, userID string, today time.Time, includeToday bool) (int, error) {
	todayStart := c.DayStart(today)
	since := todayStart.AddDate(0, 0, -(streakWindowDays - 1))

	endedAts, err := c.history.CompletedWalkDays(ctx, userID, since)
	if err != nil {
		return 0, err
	}

	days := make(map[string]struct{}, len(endedAts)+1)
	for _, endedAt := range endedAts {
		days[dayKey(endedAt.In(c.loc))] = struct{}{}
	}
	if includeToday {
		days[dayKey(todayStart)] = struct{}{}
	}

	streak := 0
	for i := 0; i < streakWindowDays; i++ {
		day := time.Date(todayStart.Year(), todayStart.Month(), todayStart.Day()-i, 0, 0, 0, 0, c.loc)
		if _, ok := days[dayKey(day)]; !ok {
			break
		}
		streak++
	}
	return streak, nil
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
