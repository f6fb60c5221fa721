package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/tollgate/internal/auth"
	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/service"
	"github.com/DukeRupert/tollgate/internal/store/memstore"
)

var testNow = time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv is a quota engine over an in-memory store.
type testEnv struct {
	st       *memstore.Store
	quota    service.QuotaService
	listener service.PlanChangeListener
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memstore.New()
	quota := service.NewQuotaService(st, discardLogger(), service.WithClock(func() time.Time { return testNow }))
	return &testEnv{
		st:       st,
		quota:    quota,
		listener: service.NewPlanChangeListener(quota, discardLogger()),
	}
}

func (e *testEnv) seedUsage(t *testing.T, userID string, n int64) {
	t.Helper()
	_, err := e.st.IncrementCount(context.Background(), userID, domain.UsageDate(testNow), n)
	require.NoError(t, err)
}

func (e *testEnv) count(t *testing.T, userID string) int64 {
	t.Helper()
	n, err := e.st.ReadCount(context.Background(), userID, domain.UsageDate(testNow))
	require.NoError(t, err)
	return n
}

func (e *testEnv) plan(t *testing.T, userID string) domain.Plan {
	t.Helper()
	state, err := e.st.ReadPlan(context.Background(), userID)
	require.NoError(t, err)
	return state.Plan
}

// asUser builds a request already carrying the identity middleware's user.
func asUser(method, target, body, userID string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req.WithContext(auth.SetUserID(req.Context(), userID))
}

func passthrough(next http.Handler) http.Handler { return next }
