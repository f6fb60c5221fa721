// Package memstore is an in-process store for development and tests.
//
// State lives in mutex-guarded maps and disappears with the process, so it
// gives no cross-instance or restart guarantees.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/store"
)

type usageKey struct {
	userID string
	date   string
}

type markKey struct {
	userID    string
	date      string
	threshold domain.Threshold
}

// Store is an in-memory store.Store.
type Store struct {
	mu       sync.Mutex
	counts   map[usageKey]int64
	plans    map[string]domain.UserPlanState
	marks    map[markKey]struct{}
	contacts map[string]domain.Contact
	events   []domain.UsageEvent
}

// New returns an empty store.
func New() *Store {
	return &Store{
		counts:   make(map[usageKey]int64),
		plans:    make(map[string]domain.UserPlanState),
		marks:    make(map[markKey]struct{}),
		contacts: make(map[string]domain.Contact),
	}
}

func (s *Store) ReadCount(ctx context.Context, userID, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[usageKey{userID, date}], nil
}

func (s *Store) IncrementCount(ctx context.Context, userID, date string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey{userID, date}
	s.counts[k] += delta
	return s.counts[k], nil
}

func (s *Store) DecrementCount(ctx context.Context, userID, date string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := usageKey{userID, date}
	count, ok := s.counts[k]
	if !ok {
		return 0, nil
	}
	count -= delta
	if count < 0 {
		count = 0
	}
	s.counts[k] = count
	return count, nil
}

func (s *Store) ResetAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counts {
		if k.userID == userID {
			s.counts[k] = 0
		}
	}
	return nil
}

func (s *Store) ReadPlan(ctx context.Context, userID string) (domain.UserPlanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.plans[userID]
	if !ok {
		return domain.UserPlanState{}, store.ErrNotFound.New("plan for user %q", userID)
	}
	return state, nil
}

func (s *Store) WritePlan(ctx context.Context, userID string, plan domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.plans[userID]
	state.UserID = userID
	state.Plan = plan
	s.plans[userID] = state
	return nil
}

func (s *Store) MarkReset(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.plans[userID]
	if !ok {
		state = domain.UserPlanState{UserID: userID, Plan: domain.PlanFree}
	}
	at = at.UTC()
	state.QuotaResetAt = &at
	s.plans[userID] = state
	return nil
}

func (s *Store) ClaimNotification(ctx context.Context, userID, date string, threshold domain.Threshold) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := markKey{userID, date, threshold}
	if _, ok := s.marks[k]; ok {
		return false, nil
	}
	s.marks[k] = struct{}{}
	return true, nil
}

func (s *Store) ReleaseNotification(ctx context.Context, userID, date string, threshold domain.Threshold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marks, markKey{userID, date, threshold})
	return nil
}

func (s *Store) ReadContact(ctx context.Context, userID string) (domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[userID]
	if !ok {
		return domain.Contact{}, store.ErrNotFound.New("contact for user %q", userID)
	}
	return c, nil
}

func (s *Store) WriteContact(ctx context.Context, contact domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.UserID] = contact
	return nil
}

func (s *Store) AppendUsageEvent(ctx context.Context, event domain.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) UsageEventsBefore(ctx context.Context, date string) ([]domain.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UsageEvent
	for _, e := range s.events {
		if e.Date < date {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *Store) PruneUsageBefore(ctx context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var pruned int64
	for _, e := range s.events {
		if e.Date < date {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return pruned, nil
}

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
