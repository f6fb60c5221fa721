// Package store defines the persistence contract of the quota engine.
//
// Every adapter (sqlstore, redisstore, memstore) implements UsageStore and the
// companion interfaces below. Usage records are keyed by (user ID, UTC date);
// the daily rollover is implicit in the key, so nothing is deleted at midnight.
package store

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"github.com/DukeRupert/tollgate/internal/domain"
)

var (
	// Error wraps every infrastructure failure reported by an adapter.
	Error = errs.Class("usage store")

	// ErrNotFound is returned when a per-user row does not exist.
	// It never signals a connectivity or query failure.
	ErrNotFound = errs.Class("not found")
)

// UsageStore is the persistence contract consumed by the quota engine.
type UsageStore interface {
	// ReadCount returns the count for (userID, date), or 0 if no record exists.
	ReadCount(ctx context.Context, userID, date string) (int64, error)

	// IncrementCount atomically adds delta and returns the post-increment value.
	// Concurrent callers for the same key never lose an increment.
	IncrementCount(ctx context.Context, userID, date string, delta int64) (int64, error)

	// DecrementCount subtracts delta, clamping at zero, and returns the new value.
	DecrementCount(ctx context.Context, userID, date string, delta int64) (int64, error)

	// ResetAll zeroes every usage record of the user.
	ResetAll(ctx context.Context, userID string) error

	// ReadPlan returns the plan row of the user, or ErrNotFound.
	ReadPlan(ctx context.Context, userID string) (domain.UserPlanState, error)

	// WritePlan creates or updates the plan of the user.
	WritePlan(ctx context.Context, userID string, plan domain.Plan) error

	// MarkReset records the time of an administrative reset.
	MarkReset(ctx context.Context, userID string, at time.Time) error
}

// NotificationMarks persists the at-most-once markers of threshold notices.
type NotificationMarks interface {
	// ClaimNotification atomically records that the notice for
	// (userID, date, threshold) is being sent. It returns false if another
	// caller already claimed it.
	ClaimNotification(ctx context.Context, userID, date string, threshold domain.Threshold) (bool, error)

	// ReleaseNotification removes a claim whose delivery failed.
	ReleaseNotification(ctx context.Context, userID, date string, threshold domain.Threshold) error
}

// Contacts stores notification addresses.
type Contacts interface {
	// ReadContact returns the contact of the user, or ErrNotFound.
	ReadContact(ctx context.Context, userID string) (domain.Contact, error)
	WriteContact(ctx context.Context, contact domain.Contact) error
}

// UsageLog is the non-authoritative audit trail of metered operations.
type UsageLog interface {
	AppendUsageEvent(ctx context.Context, event domain.UsageEvent) error

	// UsageEventsBefore returns the events dated strictly before date, oldest first.
	UsageEventsBefore(ctx context.Context, date string) ([]domain.UsageEvent, error)

	// PruneUsageBefore deletes events dated strictly before date.
	PruneUsageBefore(ctx context.Context, date string) (int64, error)
}

// Store is implemented by every adapter.
type Store interface {
	UsageStore
	NotificationMarks
	Contacts
	UsageLog

	Close() error
}
