package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/tollgate/internal/auth"
	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/service"
)

// QuotaEnforcer is the part of the quota service the meter needs.
type QuotaEnforcer interface {
	EnforceQuota(ctx context.Context, userID string) error
	IncrementUsage(ctx context.Context, userID, toolName string) error
}

// QuotaReserver takes a unit of budget up front for Reserve.
type QuotaReserver interface {
	ReserveUsage(ctx context.Context, userID, toolName string) (*service.Reservation, error)
}

// QuotaMiddleware meters handlers against the caller's daily quota.
type QuotaMiddleware struct {
	quota    QuotaEnforcer
	reserver QuotaReserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewQuotaMiddleware creates a new quota middleware.
func NewQuotaMiddleware(quota QuotaEnforcer, logger *slog.Logger) *QuotaMiddleware {
	return &QuotaMiddleware{
		quota:  quota,
		logger: logger,
		now:    time.Now,
	}
}

// WithReserver enables Reserve and ReservePath.
func (m *QuotaMiddleware) WithReserver(r QuotaReserver) *QuotaMiddleware {
	m.reserver = r
	return m
}

// Meter enforces the quota before next runs and counts one use of tool
// after next responds with a 2xx status. Requests must carry a user ID;
// run it after IdentityMiddleware.RequireUser.
func (m *QuotaMiddleware) Meter(tool string) func(http.Handler) http.Handler {
	return m.meter(func(*http.Request) string { return tool })
}

// MeterPath is Meter with the tool name taken from the named path
// wildcard, e.g. MeterPath("tool") on "POST /api/tools/{tool}/".
func (m *QuotaMiddleware) MeterPath(name string) func(http.Handler) http.Handler {
	return m.meter(func(r *http.Request) string { return r.PathValue(name) })
}

func (m *QuotaMiddleware) meter(toolFor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.GetUserIDFromRequest(r)
			tool := toolFor(r)

			if err := m.quota.EnforceQuota(r.Context(), userID); err != nil {
				m.deny(w, r, err)
				return
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.statusCode < 200 || rw.statusCode >= 300 {
				return
			}
			// The response is already written; the caller's cancellation
			// must not stop the operation from being counted.
			ctx := context.WithoutCancel(r.Context())
			if err := m.quota.IncrementUsage(ctx, userID, tool); err != nil {
				m.logger.Warn("metered request not counted", "user_id", userID, "tool", tool, "error", err)
			}
		})
	}
}

// Reserve is the strict form of Meter: it takes one unit of tool's budget
// before next runs, so concurrent requests can never overshoot the limit.
// The unit is kept if next responds with a 2xx status and returned
// otherwise, including when next panics.
func (m *QuotaMiddleware) Reserve(tool string) func(http.Handler) http.Handler {
	return m.reserve(func(*http.Request) string { return tool })
}

// ReservePath is Reserve with the tool name taken from the named path
// wildcard.
func (m *QuotaMiddleware) ReservePath(name string) func(http.Handler) http.Handler {
	return m.reserve(func(r *http.Request) string { return r.PathValue(name) })
}

func (m *QuotaMiddleware) reserve(toolFor func(*http.Request) string) func(http.Handler) http.Handler {
	if m.reserver == nil {
		panic("middleware: Reserve used without WithReserver")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.GetUserIDFromRequest(r)
			tool := toolFor(r)

			res, err := m.reserver.ReserveUsage(r.Context(), userID, tool)
			if err != nil {
				m.deny(w, r, err)
				return
			}

			ctx := context.WithoutCancel(r.Context())
			// No-op once committed.
			defer res.Rollback(ctx)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				res.Commit(ctx)
				return
			}
			m.logger.Debug("reservation returned", "user_id", userID, "tool", tool, "status", rw.statusCode)
		})
	}
}

func (m *QuotaMiddleware) deny(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)

	switch code {
	case domain.EQUOTAEXCEEDED:
		body := map[string]any{
			"error": map[string]string{
				"code":    code,
				"message": domain.ErrorMessage(err),
			},
			"reset_at": domain.NextReset(m.now()),
		}
		if limit, ok := domain.QuotaLimitFrom(err); ok {
			body["current_usage"] = limit.CurrentUsage
			body["daily_limit"] = limit.DailyLimit
		}
		writeJSON(w, http.StatusTooManyRequests, body)
	case domain.EINVALID:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"code": code, "message": domain.ErrorMessage(err)},
		})
	default:
		// Fail closed: an unverifiable quota does not admit the request.
		m.logger.Error("quota check failed, refusing request", "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]string{
				"code":    code,
				"message": domain.ErrorMessage(err),
			},
		})
	}
}
