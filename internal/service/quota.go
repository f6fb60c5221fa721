// Package service contains the business logic layer.
//
// This file implements the quota engine: per-user daily budgets checked
// against an atomic counter in the usage store.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/metrics"
	"github.com/DukeRupert/tollgate/internal/store"
)

// DefaultStoreTimeout bounds every individual store call.
const DefaultStoreTimeout = 2 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking and recording daily usage.
type QuotaService interface {
	// CheckQuota returns nil if the user has budget left today, a
	// QuotaExceeded error if not, or QuotaCheckFailed on a store fault.
	CheckQuota(ctx context.Context, userID string) error

	// EnforceQuota gates an operation before it runs. Same semantics as
	// CheckQuota; calling it repeatedly does not change state.
	EnforceQuota(ctx context.Context, userID string) error

	// IncrementUsage records one completed operation. Store failures are
	// logged and swallowed: the operation already happened.
	IncrementUsage(ctx context.Context, userID, toolName string) error

	// ReserveUsage checks and increments in one step. The caller must
	// Commit or Rollback the returned reservation.
	ReserveUsage(ctx context.Context, userID, toolName string) (*Reservation, error)

	// RollbackUsage undoes one increment for today, clamping at zero.
	RollbackUsage(ctx context.Context, userID string) error

	// GetQuotaSnapshot returns the user's usage for today.
	GetQuotaSnapshot(ctx context.Context, userID string) (*domain.QuotaSnapshot, error)

	// ResetUserQuota clears all stored counts for the user.
	// Returns false on failure instead of an error.
	ResetUserQuota(ctx context.Context, userID string) bool

	// UpdatePlan validates and persists a new plan. Usage is untouched.
	UpdatePlan(ctx context.Context, userID, plan string) error

	// RegisterObserver adds an observer notified after each recorded
	// operation. Call this before serving requests.
	RegisterObserver(o UsageObserver)
}

// UsageObserver is notified after an operation has been counted. date is
// the UTC day the operation was counted against, which may be earlier than
// the observer's clock. It must not fail the operation; errors are the
// observer's own concern.
type UsageObserver interface {
	UsageRecorded(ctx context.Context, userID, date string, count, limit int64, plan domain.Plan)
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	store        store.UsageStore
	usageLog     store.UsageLog
	logger       *slog.Logger
	now          func() time.Time
	storeTimeout time.Duration
	observers    []UsageObserver
}

// QuotaOption configures the quota service.
type QuotaOption func(*quotaService)

// WithClock sets the clock used to derive the usage date.
func WithClock(now func() time.Time) QuotaOption {
	return func(s *quotaService) {
		s.now = now
	}
}

// WithStoreTimeout bounds each store call. Non-positive values are ignored.
func WithStoreTimeout(d time.Duration) QuotaOption {
	return func(s *quotaService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithUsageLog enables the usage audit log. Audit writes are best-effort
// and never consulted for enforcement.
func WithUsageLog(l store.UsageLog) QuotaOption {
	return func(s *quotaService) {
		s.usageLog = l
	}
}

// WithObservers registers usage observers at construction time.
func WithObservers(observers ...UsageObserver) QuotaOption {
	return func(s *quotaService) {
		s.observers = append(s.observers, observers...)
	}
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(usage store.UsageStore, logger *slog.Logger, opts ...QuotaOption) QuotaService {
	s := &quotaService{
		store:        usage,
		logger:       logger,
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *quotaService) RegisterObserver(o UsageObserver) {
	s.observers = append(s.observers, o)
}

// CheckQuota returns nil if the user has budget left today.
func (s *quotaService) CheckQuota(ctx context.Context, userID string) error {
	return s.check(ctx, "quota.check", userID)
}

// EnforceQuota gates an operation before it runs.
func (s *quotaService) EnforceQuota(ctx context.Context, userID string) error {
	return s.check(ctx, "quota.enforce", userID)
}

func (s *quotaService) check(ctx context.Context, op, userID string) error {
	if userID == "" {
		return domain.Invalid(op, "user ID is required")
	}

	plan, err := s.loadPlan(ctx, userID)
	if err != nil {
		metrics.QuotaChecked("failed")
		s.logger.Error("quota check failed reading plan", "user_id", userID, "error", err)
		return domain.QuotaCheckFailed(err, op)
	}

	count, err := s.readCount(ctx, userID, domain.UsageDate(s.now()))
	if err != nil {
		metrics.QuotaChecked("failed")
		s.logger.Error("quota check failed reading usage", "user_id", userID, "error", err)
		return domain.QuotaCheckFailed(err, op)
	}

	limit := domain.BudgetFor(plan)
	if count >= limit {
		metrics.QuotaChecked("denied")
		s.logger.Info("quota exceeded",
			"user_id", userID,
			"plan", plan,
			"used", count,
			"limit", limit,
		)
		return domain.QuotaExceeded(op, count, limit)
	}

	metrics.QuotaChecked("allowed")
	return nil
}

// IncrementUsage records one completed operation for today.
func (s *quotaService) IncrementUsage(ctx context.Context, userID, toolName string) error {
	const op = "quota.increment_usage"

	if userID == "" {
		return domain.Invalid(op, "user ID is required")
	}

	now := s.now()
	date := domain.UsageDate(now)

	count, err := s.incrementCount(ctx, userID, date)
	if err != nil {
		// The operation already happened; refusing it now would not undo it.
		metrics.UsageRecorded("failed")
		s.logger.Error("failed to record usage",
			"user_id", userID,
			"tool", toolName,
			"date", date,
			"error", err,
		)
		return nil
	}
	metrics.UsageRecorded("recorded")

	s.appendEvent(ctx, userID, toolName, now)
	s.notifyObservers(ctx, userID, date, count)
	return nil
}

// ReserveUsage checks the budget and takes one unit of it.
func (s *quotaService) ReserveUsage(ctx context.Context, userID, toolName string) (*Reservation, error) {
	const op = "quota.reserve_usage"

	if err := s.check(ctx, op, userID); err != nil {
		return nil, err
	}

	// Re-read the plan so the post-increment comparison uses the same limit
	// a concurrent plan change would give the next check.
	plan, err := s.loadPlan(ctx, userID)
	if err != nil {
		return nil, domain.QuotaCheckFailed(err, op)
	}
	limit := domain.BudgetFor(plan)

	now := s.now()
	date := domain.UsageDate(now)
	count, err := s.incrementCount(ctx, userID, date)
	if err != nil {
		metrics.UsageRecorded("failed")
		s.logger.Error("failed to reserve usage", "user_id", userID, "tool", toolName, "error", err)
		return nil, domain.QuotaCheckFailed(err, op)
	}

	if count > limit {
		// Lost the race to a concurrent reservation.
		if _, err := s.decrementCount(ctx, userID, date); err != nil {
			s.logger.Error("failed to undo over-limit reservation", "user_id", userID, "error", err)
		}
		metrics.QuotaChecked("denied")
		return nil, domain.QuotaExceeded(op, count-1, limit)
	}

	metrics.UsageRecorded("recorded")
	return &Reservation{
		svc:    s,
		userID: userID,
		tool:   toolName,
		at:     now,
		date:   date,
		count:  count,
	}, nil
}

// RollbackUsage undoes one increment for today.
func (s *quotaService) RollbackUsage(ctx context.Context, userID string) error {
	const op = "quota.rollback_usage"

	if userID == "" {
		return domain.Invalid(op, "user ID is required")
	}

	if _, err := s.decrementCount(ctx, userID, domain.UsageDate(s.now())); err != nil {
		s.logger.Error("failed to roll back usage", "user_id", userID, "error", err)
		return domain.Wrap(err, domain.EUNAVAILABLE, op, "unable to roll back usage")
	}
	metrics.UsageRecorded("rolled_back")
	return nil
}

// GetQuotaSnapshot returns the user's usage for today.
func (s *quotaService) GetQuotaSnapshot(ctx context.Context, userID string) (*domain.QuotaSnapshot, error) {
	const op = "quota.get_snapshot"

	if userID == "" {
		return nil, domain.Invalid(op, "user ID is required")
	}

	plan, err := s.loadPlan(ctx, userID)
	if err != nil {
		return nil, domain.QuotaFetchFailed(err, op)
	}

	now := s.now()
	count, err := s.readCount(ctx, userID, domain.UsageDate(now))
	if err != nil {
		return nil, domain.QuotaFetchFailed(err, op)
	}

	return domain.NewQuotaSnapshot(plan, count, now), nil
}

// ResetUserQuota clears all stored counts for the user.
func (s *quotaService) ResetUserQuota(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	defer metrics.ObserveStore("reset_all", time.Now())
	if err := s.store.ResetAll(sctx, userID); err != nil {
		s.logger.Error("failed to reset user quota", "user_id", userID, "error", err)
		return false
	}

	now := s.now()
	if err := s.store.MarkReset(sctx, userID, now); err != nil {
		s.logger.Error("failed to record quota reset", "user_id", userID, "error", err)
		return false
	}

	s.logger.Info("user quota reset", "user_id", userID, "at", now.UTC())
	return true
}

// UpdatePlan validates and persists a new plan.
func (s *quotaService) UpdatePlan(ctx context.Context, userID, plan string) error {
	const op = "quota.update_plan"

	if userID == "" {
		return domain.Invalid(op, "user ID is required")
	}

	p, err := domain.ParsePlan(plan)
	if err != nil {
		return domain.InvalidPlan(op, plan)
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	defer metrics.ObserveStore("write_plan", time.Now())
	if err := s.store.WritePlan(sctx, userID, p); err != nil {
		s.logger.Error("failed to update plan", "user_id", userID, "plan", p, "error", err)
		return domain.Internal(err, op, "failed to update plan")
	}

	metrics.PlanChanged(string(p))
	s.logger.Info("plan updated", "user_id", userID, "plan", p)
	return nil
}

// =============================================================================
// Reservation
// =============================================================================

// Reservation is one unit of budget taken by ReserveUsage. Exactly one of
// Commit or Rollback takes effect; later calls are no-ops.
type Reservation struct {
	svc    *quotaService
	userID string
	tool   string
	at     time.Time
	date   string
	count  int64

	mu   sync.Mutex
	done bool
}

// Count returns the user's usage including this reservation.
func (r *Reservation) Count() int64 {
	return r.count
}

// Commit keeps the reserved unit and notifies observers.
func (r *Reservation) Commit(ctx context.Context) {
	if !r.finish() {
		return
	}
	r.svc.appendEvent(ctx, r.userID, r.tool, r.at)
	r.svc.notifyObservers(ctx, r.userID, r.date, r.count)
}

// Rollback returns the reserved unit to the budget. It decrements the
// reservation's own date, so a rollback after midnight never touches the
// new day's counter.
func (r *Reservation) Rollback(ctx context.Context) {
	if !r.finish() {
		return
	}
	if _, err := r.svc.decrementCount(ctx, r.userID, r.date); err != nil {
		r.svc.logger.Error("failed to roll back reservation",
			"user_id", r.userID,
			"tool", r.tool,
			"date", r.date,
			"error", err,
		)
		return
	}
	metrics.UsageRecorded("rolled_back")
}

func (r *Reservation) finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.done = true
	return true
}

// =============================================================================
// Helper Functions
// =============================================================================

func (s *quotaService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// loadPlan returns the user's plan. A missing plan row is the free plan.
func (s *quotaService) loadPlan(ctx context.Context, userID string) (domain.Plan, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	defer metrics.ObserveStore("read_plan", time.Now())
	state, err := s.store.ReadPlan(sctx, userID)
	if store.ErrNotFound.Has(err) {
		s.logger.Debug("no plan on record, using free plan", "user_id", userID)
		return domain.PlanFree, nil
	}
	if err != nil {
		return "", err
	}
	if !state.Plan.IsValid() {
		s.logger.Warn("stored plan is not recognized, using free budget", "user_id", userID, "plan", state.Plan)
		return domain.PlanFree, nil
	}
	return state.Plan, nil
}

func (s *quotaService) readCount(ctx context.Context, userID, date string) (int64, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	defer metrics.ObserveStore("read_count", time.Now())
	return s.store.ReadCount(sctx, userID, date)
}

func (s *quotaService) incrementCount(ctx context.Context, userID, date string) (int64, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	defer metrics.ObserveStore("increment_count", time.Now())
	return s.store.IncrementCount(sctx, userID, date, 1)
}

func (s *quotaService) decrementCount(ctx context.Context, userID, date string) (int64, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	defer metrics.ObserveStore("decrement_count", time.Now())
	return s.store.DecrementCount(sctx, userID, date, 1)
}

func (s *quotaService) appendEvent(ctx context.Context, userID, toolName string, at time.Time) {
	if s.usageLog == nil {
		return
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	event := domain.UsageEvent{
		UserID: userID,
		Tool:   toolName,
		Date:   domain.UsageDate(at),
		At:     at.UTC(),
	}
	if err := s.usageLog.AppendUsageEvent(sctx, event); err != nil {
		s.logger.Warn("failed to append usage event", "user_id", userID, "tool", toolName, "error", err)
	}
}

func (s *quotaService) notifyObservers(ctx context.Context, userID, date string, count int64) {
	if len(s.observers) == 0 {
		return
	}

	plan, err := s.loadPlan(ctx, userID)
	if err != nil {
		s.logger.Warn("skipping usage observers: plan unavailable", "user_id", userID, "error", err)
		return
	}
	limit := domain.BudgetFor(plan)

	for _, o := range s.observers {
		o.UsageRecorded(ctx, userID, date, count, limit, plan)
	}
}
