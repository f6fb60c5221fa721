package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/tollgate/internal/domain"
)

// BasicAuthMiddleware protects operator endpoints (/metrics, /admin) with
// HTTP basic authentication.
type BasicAuthMiddleware struct {
	realm    string
	username string
	password string
	hashed   bool // password is a bcrypt hash
	enabled  bool
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewBasicAuthMiddleware creates a new basic auth middleware.
// If both username and password are empty, authentication is disabled.
// A password starting with a bcrypt prefix ($2a$, $2b$, $2y$) is compared
// as a hash; anything else is compared as plain text.
func NewBasicAuthMiddleware(realm, username, password string, logger *slog.Logger) *BasicAuthMiddleware {
	return &BasicAuthMiddleware{
		realm:    realm,
		username: username,
		password: password,
		hashed:   isBcryptHash(password),
		enabled:  username != "" || password != "",
		logger:   logger,
	}
}

// WithFailureLimiter blocks a client IP once it has failed authentication
// as many times as the limiter allows within its window.
func (m *BasicAuthMiddleware) WithFailureLimiter(l *RateLimiter) *BasicAuthMiddleware {
	m.limiter = l
	return m
}

// Handler returns middleware that requires basic authentication.
func (m *BasicAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// If auth is disabled, pass through
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)
		if m.limiter != nil && m.limiter.Blocked(clientIP) {
			retryAfter := int(m.limiter.TimeUntilReset(clientIP).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]string{
					"code":    domain.ERATELIMIT,
					"message": "Too many failed attempts. Please try again later.",
				},
			})
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || !m.matches(user, pass) {
			if m.limiter != nil {
				m.limiter.RecordFailure(clientIP)
			}
			if ok {
				m.logger.Warn("basic auth failed", "realm", m.realm, "ip", clientIP, "path", r.URL.Path)
			}
			m.unauthorized(w)
			return
		}

		if m.limiter != nil {
			m.limiter.Reset(clientIP)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *BasicAuthMiddleware) matches(user, pass string) bool {
	// Use constant-time comparison to prevent timing attacks
	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(m.username)) == 1

	var passMatch bool
	if m.hashed {
		passMatch = bcrypt.CompareHashAndPassword([]byte(m.password), []byte(pass)) == nil
	} else {
		passMatch = subtle.ConstantTimeCompare([]byte(pass), []byte(m.password)) == 1
	}

	return userMatch && passMatch
}

// unauthorized sends a 401 response with WWW-Authenticate header.
func (m *BasicAuthMiddleware) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+m.realm+`"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func isBcryptHash(s string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
