// Package domain contains core business types and interfaces.
//
// This file defines the per-day usage model and the derived quota snapshot.
package domain

import (
	"time"
)

// DateLayout is the layout of usage partition keys (UTC calendar dates).
const DateLayout = "2006-01-02"

// UsageState is the enforcement state of a user for one UTC day.
// It is never stored; it is always recomputed from the counter.
type UsageState string

const (
	// UsageStateUnknown means no operation has been recorded today.
	// An absent record and a zero count are equivalent.
	UsageStateUnknown        UsageState = "unknown"
	UsageStateUnderBudget    UsageState = "under_budget"
	UsageStateAtOrOverBudget UsageState = "at_or_over_budget"
)

// UsageStateFor derives the state of a counter against a limit.
func UsageStateFor(count, limit int64) UsageState {
	switch {
	case count <= 0:
		return UsageStateUnknown
	case count < limit:
		return UsageStateUnderBudget
	default:
		return UsageStateAtOrOverBudget
	}
}

// UsageRecord is one user's metered-operation count for one UTC day.
type UsageRecord struct {
	UserID string
	Date   string // UTC calendar date, DateLayout
	Count  int64
}

// UserPlanState is the per-user plan row. Plan is owned by billing and only
// changes through the plan change listener.
type UserPlanState struct {
	UserID       string
	Plan         Plan
	QuotaResetAt *time.Time // last administrative reset, nil if never
}

// QuotaSnapshot is a computed view of a user's usage for today.
type QuotaSnapshot struct {
	Plan         Plan       `json:"plan"`
	DailyLimit   int64      `json:"daily_limit"`
	CurrentUsage int64      `json:"current_usage"`
	Remaining    int64      `json:"remaining"`
	PercentUsed  int64      `json:"percent_used"`
	State        UsageState `json:"state"`
	ResetAt      time.Time  `json:"reset_at"`
}

// NewQuotaSnapshot builds a snapshot for the given usage at time now.
func NewQuotaSnapshot(plan Plan, currentUsage int64, now time.Time) *QuotaSnapshot {
	limit := BudgetFor(plan)
	remaining := limit - currentUsage
	if remaining < 0 {
		remaining = 0
	}
	return &QuotaSnapshot{
		Plan:         plan,
		DailyLimit:   limit,
		CurrentUsage: currentUsage,
		Remaining:    remaining,
		PercentUsed:  PercentUsed(currentUsage, limit),
		State:        UsageStateFor(currentUsage, limit),
		ResetAt:      NextReset(now),
	}
}

// UsageEvent is one row of the usage audit log. The log is derived and never
// consulted for enforcement; the daily counter is the only source of truth.
type UsageEvent struct {
	UserID string    `json:"user_id"`
	Tool   string    `json:"tool"`
	Date   string    `json:"date"`
	At     time.Time `json:"at"`
}

// Threshold is a usage percentage that triggers a one-time daily notice.
type Threshold string

const (
	Threshold80  Threshold = "80"
	Threshold100 Threshold = "100"
)

// Thresholds returns the notification thresholds in ascending order.
func Thresholds() []Threshold {
	return []Threshold{Threshold80, Threshold100}
}

// Percent returns the percentage the threshold fires at.
func (t Threshold) Percent() int64 {
	switch t {
	case Threshold80:
		return 80
	case Threshold100:
		return 100
	}
	return 0
}

// Reached reports whether count has crossed the threshold of limit. The
// comparison is exact; the rounded PercentUsed is for display only, so
// 1990 of 2000 has not reached 100.
func (t Threshold) Reached(count, limit int64) bool {
	p := t.Percent()
	if p <= 0 {
		return false
	}
	if limit <= 0 {
		return true
	}
	return 100*count >= p*limit
}

// =============================================================================
// Time helpers
// =============================================================================

// UsageDate returns the UTC calendar date key for t.
func UsageDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// StartOfDay returns UTC midnight at the start of t's UTC day.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextReset returns the first UTC midnight strictly after t.
func NextReset(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1)
}

// PercentUsed returns round-half-up(100 * count / limit).
// A non-positive limit reports 100 so callers fail towards the notice.
func PercentUsed(count, limit int64) int64 {
	if limit <= 0 {
		return 100
	}
	if count <= 0 {
		return 0
	}
	return (200*count + limit) / (2 * limit)
}
