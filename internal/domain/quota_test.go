package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentUsed(t *testing.T) {
	tests := []struct {
		name         string
		count, limit int64
		want         int64
	}{
		{"none", 0, 10, 0},
		{"negative count", -3, 10, 0},
		{"half rounds up", 1, 8, 13},
		{"third rounds down", 1, 3, 33},
		{"two thirds rounds up", 2, 3, 67},
		{"eighty", 8, 10, 80},
		{"just below limit", 1990, 2000, 100},
		{"just below eighty", 398, 500, 80},
		{"over limit", 15, 10, 150},
		{"zero limit", 0, 0, 100},
		{"negative limit", 5, -1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PercentUsed(tt.count, tt.limit))
		})
	}
}

func TestThresholdReached(t *testing.T) {
	tests := []struct {
		threshold    Threshold
		count, limit int64
		want         bool
	}{
		{Threshold80, 7, 10, false},
		{Threshold80, 8, 10, true},
		{Threshold80, 398, 500, false},
		{Threshold80, 399, 500, false},
		{Threshold80, 400, 500, true},
		{Threshold100, 9, 10, false},
		{Threshold100, 10, 10, true},
		{Threshold100, 11, 10, true},
		{Threshold100, 1990, 2000, false},
		{Threshold100, 1999, 2000, false},
		{Threshold100, 2000, 2000, true},
		{Threshold100, 0, 0, true},
		{Threshold("50"), 10, 10, false},
	}
	for _, tt := range tests {
		got := tt.threshold.Reached(tt.count, tt.limit)
		assert.Equal(t, tt.want, got, "%s%% of %d at %d", tt.threshold, tt.limit, tt.count)
	}
}

func TestUsageStateFor(t *testing.T) {
	assert.Equal(t, UsageStateUnknown, UsageStateFor(0, 10))
	assert.Equal(t, UsageStateUnderBudget, UsageStateFor(9, 10))
	assert.Equal(t, UsageStateAtOrOverBudget, UsageStateFor(10, 10))
	assert.Equal(t, UsageStateAtOrOverBudget, UsageStateFor(12, 10))
}

func TestNextReset(t *testing.T) {
	midnight := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"exactly midnight", midnight, midnight.AddDate(0, 0, 1)},
		{"just after midnight", midnight.Add(time.Nanosecond), midnight.AddDate(0, 0, 1)},
		{"last instant of day", midnight.Add(24*time.Hour - time.Nanosecond), midnight.AddDate(0, 0, 1)},
		{"month end", time.Date(2026, 10, 31, 12, 0, 0, 0, time.UTC), time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)},
		{"year end", time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)},
		// 22:30 in UTC-5 is already 03:30 on the 18th in UTC.
		{"non-UTC input", time.Date(2026, 10, 17, 22, 30, 0, 0, time.FixedZone("EST", -5*3600)), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextReset(tt.at)
			assert.True(t, got.After(tt.at), "reset must be strictly after %s", tt.at)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUsageDate(t *testing.T) {
	assert.Equal(t, "2026-10-17", UsageDate(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-10-17", UsageDate(time.Date(2026, 10, 17, 23, 59, 59, 0, time.UTC)))
	assert.Equal(t, "2026-10-18", UsageDate(time.Date(2026, 10, 17, 22, 30, 0, 0, time.FixedZone("EST", -5*3600))))
}

func TestNewQuotaSnapshot(t *testing.T) {
	now := time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)

	snap := NewQuotaSnapshot(PlanFree, 12, now)
	assert.Equal(t, int64(10), snap.DailyLimit)
	assert.Equal(t, int64(0), snap.Remaining, "remaining never goes negative")
	assert.Equal(t, int64(120), snap.PercentUsed)
	assert.Equal(t, UsageStateAtOrOverBudget, snap.State)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), snap.ResetAt)
}
