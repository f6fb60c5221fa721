// Package notify sends one-time daily notices when a user's usage crosses
// a threshold of their plan budget.
//
// Each (user, date, threshold) notice is claimed in the store before it is
// sent, so at most one notice goes out per day even across restarts and
// multiple instances. A failed send releases the claim so a later
// operation can retry it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/email"
	"github.com/DukeRupert/tollgate/internal/metrics"
	"github.com/DukeRupert/tollgate/internal/store"
)

// SnapshotReader supplies the user's current usage.
type SnapshotReader interface {
	GetQuotaSnapshot(ctx context.Context, userID string) (*domain.QuotaSnapshot, error)
}

// Result is the outcome of one notice delivery.
type Result struct {
	Success bool
	Err     error
}

// ThresholdNotifier sends threshold notices after usage is recorded.
type ThresholdNotifier struct {
	snapshots SnapshotReader
	marks     store.NotificationMarks
	contacts  store.Contacts
	sender    email.EmailService
	logger    *slog.Logger
	now       func() time.Time
}

// NewThresholdNotifier creates a new ThresholdNotifier.
func NewThresholdNotifier(
	snapshots SnapshotReader,
	marks store.NotificationMarks,
	contacts store.Contacts,
	sender email.EmailService,
	logger *slog.Logger,
) *ThresholdNotifier {
	return &ThresholdNotifier{
		snapshots: snapshots,
		marks:     marks,
		contacts:  contacts,
		sender:    sender,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the clock MaybeNotify uses to derive the notice date.
func (n *ThresholdNotifier) WithClock(now func() time.Time) *ThresholdNotifier {
	n.now = now
	return n
}

// MaybeNotify reads the user's snapshot and sends any notice due.
// It returns false if a due notice could not be delivered.
func (n *ThresholdNotifier) MaybeNotify(ctx context.Context, userID string) bool {
	snap, err := n.snapshots.GetQuotaSnapshot(ctx, userID)
	if err != nil {
		n.logger.Warn("threshold check skipped: snapshot unavailable", "user_id", userID, "error", err)
		return false
	}
	return n.notify(ctx, userID, domain.UsageDate(n.now()), snap.CurrentUsage, snap.DailyLimit, snap.Plan)
}

// UsageRecorded runs the threshold check after an operation is counted.
// The notice is claimed under the date the operation was counted against,
// not the notifier's own clock.
func (n *ThresholdNotifier) UsageRecorded(ctx context.Context, userID, date string, count, limit int64, plan domain.Plan) {
	n.notify(ctx, userID, date, count, limit, plan)
}

func (n *ThresholdNotifier) notify(ctx context.Context, userID, date string, count, limit int64, plan domain.Plan) bool {
	ok := true
	for _, threshold := range domain.Thresholds() {
		if !threshold.Reached(count, limit) {
			continue
		}
		if res := n.deliver(ctx, userID, date, threshold, count, limit, plan); !res.Success {
			ok = false
		}
	}
	return ok
}

func (n *ThresholdNotifier) deliver(ctx context.Context, userID, date string, threshold domain.Threshold, count, limit int64, plan domain.Plan) Result {
	claimed, err := n.marks.ClaimNotification(ctx, userID, date, threshold)
	if err != nil {
		metrics.NotificationDispatched(string(threshold), "failed")
		n.logger.Error("failed to claim notification", "user_id", userID, "threshold", threshold, "error", err)
		return Result{Err: err}
	}
	if !claimed {
		// Already sent today.
		return Result{Success: true}
	}

	contact, err := n.contacts.ReadContact(ctx, userID)
	if err != nil {
		n.release(ctx, userID, date, threshold)
		if store.ErrNotFound.Has(err) {
			metrics.NotificationDispatched(string(threshold), "skipped")
			n.logger.Warn("no contact for quota notice", "user_id", userID, "threshold", threshold)
		} else {
			metrics.NotificationDispatched(string(threshold), "failed")
			n.logger.Error("failed to read contact", "user_id", userID, "error", err)
		}
		return Result{Err: err}
	}

	if err := n.sender.SendQuotaWarning(ctx, contact.Email, contact.Name, count, limit, plan); err != nil {
		n.release(ctx, userID, date, threshold)
		metrics.NotificationDispatched(string(threshold), "failed")
		n.logger.Error("failed to send quota notice",
			"user_id", userID,
			"threshold", threshold,
			"used", count,
			"limit", limit,
			"error", err,
		)
		return Result{Err: err}
	}

	metrics.NotificationDispatched(string(threshold), "sent")
	n.logger.Info("quota notice sent",
		"user_id", userID,
		"threshold", threshold,
		"used", count,
		"limit", limit,
		"plan", plan,
	)
	return Result{Success: true}
}

// release drops a claim so a later operation can retry the notice.
func (n *ThresholdNotifier) release(ctx context.Context, userID, date string, threshold domain.Threshold) {
	if err := n.marks.ReleaseNotification(ctx, userID, date, threshold); err != nil {
		n.logger.Error("failed to release notification claim",
			"user_id", userID,
			"threshold", threshold,
			"error", err,
		)
	}
}
