package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/tollgate/internal/auth"
)

// DefaultUserIDHeader is the header the upstream auth proxy sets.
const DefaultUserIDHeader = "X-User-ID"

// maxUserIDLength bounds user IDs taken from the header; they end up in
// store keys and log lines.
const maxUserIDLength = 256

// IdentityMiddleware takes the caller's user ID from a trusted header set
// by the upstream auth collaborator. It never authenticates anyone itself.
type IdentityMiddleware struct {
	header string
	logger *slog.Logger
}

// NewIdentityMiddleware creates a new identity middleware reading header.
// An empty header uses DefaultUserIDHeader.
func NewIdentityMiddleware(header string, logger *slog.Logger) *IdentityMiddleware {
	if header == "" {
		header = DefaultUserIDHeader
	}
	return &IdentityMiddleware{
		header: header,
		logger: logger,
	}
}

// WithUser stores the user ID in the request context when the header is
// present and well formed. It never rejects a request.
func (m *IdentityMiddleware) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(m.header))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(userID) > maxUserIDLength || strings.ContainsAny(userID, "\r\n\x00") {
			m.logger.Warn("ignoring malformed user ID header", "path", r.URL.Path, "length", len(userID))
			next.ServeHTTP(w, r)
			return
		}

		ctx := auth.SetUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects requests without a user ID with 401.
// Must run after WithUser.
func (m *IdentityMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetUserIDFromRequest(r) == "" {
			m.logger.Debug("request without user identity", "path", r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{
					"code":    "unauthorized",
					"message": "Authentication required",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(identity.WithUser, identity.RequireUser)
//	mux.Handle("GET /api/quota", stack(quotaHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
