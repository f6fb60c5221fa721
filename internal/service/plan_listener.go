package service

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/tollgate/internal/domain"
)

// PlanChangeListener applies subscription lifecycle events from billing.
type PlanChangeListener interface {
	// OnPlanChanged validates plan and applies it to the user.
	OnPlanChanged(ctx context.Context, userID, plan string) error

	// OnSubscriptionCanceled moves the user back to the free plan.
	OnSubscriptionCanceled(ctx context.Context, userID string) error

	// OnSubscriptionStatus applies plan while the subscription grants
	// access and the free plan once it no longer does.
	OnSubscriptionStatus(ctx context.Context, userID string, status domain.SubscriptionStatus, plan string) error
}

type planChangeListener struct {
	quota  QuotaService
	logger *slog.Logger
}

// NewPlanChangeListener creates a new PlanChangeListener.
func NewPlanChangeListener(quota QuotaService, logger *slog.Logger) PlanChangeListener {
	return &planChangeListener{
		quota:  quota,
		logger: logger,
	}
}

func (l *planChangeListener) OnPlanChanged(ctx context.Context, userID, plan string) error {
	const op = "plan_listener.on_plan_changed"

	p, err := domain.ParsePlan(plan)
	if err != nil {
		l.logger.Warn("rejected plan change", "user_id", userID, "plan", plan)
		return domain.InvalidPlan(op, plan)
	}
	return l.quota.UpdatePlan(ctx, userID, string(p))
}

func (l *planChangeListener) OnSubscriptionCanceled(ctx context.Context, userID string) error {
	l.logger.Info("subscription canceled, downgrading to free", "user_id", userID)
	return l.quota.UpdatePlan(ctx, userID, string(domain.PlanFree))
}

func (l *planChangeListener) OnSubscriptionStatus(ctx context.Context, userID string, status domain.SubscriptionStatus, plan string) error {
	switch status {
	case domain.SubscriptionStatusCanceled,
		domain.SubscriptionStatusUnpaid,
		domain.SubscriptionStatusIncompleteExpired:
		return l.OnSubscriptionCanceled(ctx, userID)
	}

	if !status.GrantsPaidPlan() {
		// incomplete or paused: keep the current plan until billing settles.
		l.logger.Debug("ignoring subscription status", "user_id", userID, "status", status)
		return nil
	}
	return l.OnPlanChanged(ctx, userID, plan)
}
