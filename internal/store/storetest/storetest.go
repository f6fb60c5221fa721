// Package storetest is the conformance suite every store.Store adapter runs.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/store"
)

// NewFunc returns an empty store for one subtest. The suite closes it.
type NewFunc func(t *testing.T) store.Store

// Run executes the conformance suite against the adapter built by newStore.
func Run(t *testing.T, newStore NewFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ReadCount_Missing", testReadCountMissing},
		{"IncrementCount_Sequential", testIncrementSequential},
		{"IncrementCount_Concurrent", testIncrementConcurrent},
		{"IncrementCount_DatePartition", testDatePartition},
		{"DecrementCount_ClampsAtZero", testDecrementClamps},
		{"DecrementCount_Missing", testDecrementMissing},
		{"ResetAll", testResetAll},
		{"ResetAll_PrefixedUserIDs", testResetAllPrefixedUserIDs},
		{"Plan_RoundTrip", testPlanRoundTrip},
		{"MarkReset", testMarkReset},
		{"ClaimNotification", testClaimNotification},
		{"Contact_RoundTrip", testContactRoundTrip},
		{"UsageLog", testUsageLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer func() { _ = s.Close() }()
			tt.fn(t, s)
		})
	}
}

const (
	today     = "2026-10-17"
	yesterday = "2026-10-16"
)

func testReadCountMissing(t *testing.T, s store.Store) {
	ctx := context.Background()

	count, err := s.ReadCount(ctx, "nobody", today)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func testIncrementSequential(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		count, err := s.IncrementCount(ctx, "user-1", today, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(i), count)
	}

	count, err := s.IncrementCount(ctx, "user-1", today, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(8), count)

	count, err = s.ReadCount(ctx, "user-1", today)
	require.NoError(t, err)
	assert.Equal(t, int64(8), count)
}

func testIncrementConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers, perWorker = 8, 25

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.IncrementCount(ctx, "user-1", today, 1); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	count, err := s.ReadCount(ctx, "user-1", today)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), count, "no increment may be lost")
}

func testDatePartition(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.IncrementCount(ctx, "user-1", yesterday, 4)
	require.NoError(t, err)
	_, err = s.IncrementCount(ctx, "user-1", today, 1)
	require.NoError(t, err)
	_, err = s.IncrementCount(ctx, "user-2", today, 2)
	require.NoError(t, err)

	count, err := s.ReadCount(ctx, "user-1", yesterday)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	count, err = s.ReadCount(ctx, "user-1", today)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.ReadCount(ctx, "user-2", today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func testDecrementClamps(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.IncrementCount(ctx, "user-1", today, 3)
	require.NoError(t, err)

	count, err := s.DecrementCount(ctx, "user-1", today, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.DecrementCount(ctx, "user-1", today, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = s.ReadCount(ctx, "user-1", today)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func testDecrementMissing(t *testing.T, s store.Store) {
	ctx := context.Background()

	count, err := s.DecrementCount(ctx, "nobody", today, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	count, err = s.ReadCount(ctx, "nobody", today)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func testResetAll(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.IncrementCount(ctx, "user-1", yesterday, 7)
	require.NoError(t, err)
	_, err = s.IncrementCount(ctx, "user-1", today, 3)
	require.NoError(t, err)
	_, err = s.IncrementCount(ctx, "user-2", today, 2)
	require.NoError(t, err)

	require.NoError(t, s.ResetAll(ctx, "user-1"))

	for _, date := range []string{yesterday, today} {
		count, err := s.ReadCount(ctx, "user-1", date)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count, date)
	}

	count, err := s.ReadCount(ctx, "user-2", today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "other users are untouched")

	// Counting resumes from zero after a reset.
	count, err = s.IncrementCount(ctx, "user-1", today, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func testResetAllPrefixedUserIDs(t *testing.T, s store.Store) {
	ctx := context.Background()

	// User IDs are opaque; one may be a prefix of another plus a separator.
	others := map[string]int64{"a:b": 5, "a:2026-10-17": 4, "a*": 3, "ab": 2}
	_, err := s.IncrementCount(ctx, "a", today, 1)
	require.NoError(t, err)
	for userID, n := range others {
		_, err := s.IncrementCount(ctx, userID, today, n)
		require.NoError(t, err)
	}

	require.NoError(t, s.ResetAll(ctx, "a"))

	count, err := s.ReadCount(ctx, "a", today)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	for userID, want := range others {
		count, err := s.ReadCount(ctx, userID, today)
		require.NoError(t, err)
		assert.Equal(t, want, count, "user %q after ResetAll(a)", userID)
	}

	// The reverse: resetting a user whose ID holds glob characters.
	require.NoError(t, s.ResetAll(ctx, "a*"))
	count, err = s.ReadCount(ctx, "ab", today)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func testPlanRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.ReadPlan(ctx, "user-1")
	require.Error(t, err)
	assert.True(t, store.ErrNotFound.Has(err), "missing plan must be ErrNotFound, got %v", err)
	assert.False(t, store.Error.Has(err), "missing plan is not a store fault")

	require.NoError(t, s.WritePlan(ctx, "user-1", domain.PlanPremium))
	state, err := s.ReadPlan(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", state.UserID)
	assert.Equal(t, domain.PlanPremium, state.Plan)
	assert.Nil(t, state.QuotaResetAt)

	require.NoError(t, s.WritePlan(ctx, "user-1", domain.PlanPro))
	state, err = s.ReadPlan(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, state.Plan)
}

func testMarkReset(t *testing.T, s store.Store) {
	ctx := context.Background()
	at := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	// A reset of an unknown user creates a free plan row.
	require.NoError(t, s.MarkReset(ctx, "user-1", at))
	state, err := s.ReadPlan(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, state.Plan)
	require.NotNil(t, state.QuotaResetAt)
	assert.True(t, at.Equal(*state.QuotaResetAt), "got %v", state.QuotaResetAt)

	// A reset keeps an existing plan.
	require.NoError(t, s.WritePlan(ctx, "user-2", domain.PlanPro))
	require.NoError(t, s.MarkReset(ctx, "user-2", at))
	state, err = s.ReadPlan(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, state.Plan)
	require.NotNil(t, state.QuotaResetAt)
}

func testClaimNotification(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.ClaimNotification(ctx, "user-1", today, domain.Threshold80)
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins")

	ok, err = s.ClaimNotification(ctx, "user-1", today, domain.Threshold80)
	require.NoError(t, err)
	assert.False(t, ok, "second claim for the same day loses")

	ok, err = s.ClaimNotification(ctx, "user-1", today, domain.Threshold100)
	require.NoError(t, err)
	assert.True(t, ok, "thresholds are independent")

	ok, err = s.ClaimNotification(ctx, "user-1", yesterday, domain.Threshold80)
	require.NoError(t, err)
	assert.True(t, ok, "dates are independent")

	require.NoError(t, s.ReleaseNotification(ctx, "user-1", today, domain.Threshold80))
	ok, err = s.ClaimNotification(ctx, "user-1", today, domain.Threshold80)
	require.NoError(t, err)
	assert.True(t, ok, "released claims can be taken again")
}

func testContactRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.ReadContact(ctx, "user-1")
	require.Error(t, err)
	assert.True(t, store.ErrNotFound.Has(err))

	want := domain.Contact{UserID: "user-1", Email: "ada@example.com", Name: "Ada"}
	require.NoError(t, s.WriteContact(ctx, want))
	got, err := s.ReadContact(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want.Email = "ada@lovelace.dev"
	require.NoError(t, s.WriteContact(ctx, want))
	got, err = s.ReadContact(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func testUsageLog(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	for day := 0; day < 4; day++ {
		at := base.AddDate(0, 0, day)
		for i := 0; i < 2; i++ {
			require.NoError(t, s.AppendUsageEvent(ctx, domain.UsageEvent{
				UserID: "user-1",
				Tool:   fmt.Sprintf("tool-%d", i),
				Date:   domain.UsageDate(at),
				At:     at.Add(time.Duration(i) * time.Minute),
			}))
		}
	}

	// 14th and 15th are before the 16th.
	events, err := s.UsageEventsBefore(ctx, "2026-10-16")
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "2026-10-14", events[0].Date)
	assert.Equal(t, "tool-0", events[0].Tool)
	assert.True(t, base.Equal(events[0].At))
	assert.Equal(t, "2026-10-15", events[3].Date)

	pruned, err := s.PruneUsageBefore(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, int64(4), pruned)

	events, err = s.UsageEventsBefore(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = s.UsageEventsBefore(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.Len(t, events, 4, "later events are kept")
}
