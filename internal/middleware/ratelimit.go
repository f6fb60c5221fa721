package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/tollgate/internal/auth"
	"github.com/DukeRupert/tollgate/internal/domain"
)

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter counts attempts per key in fixed windows. The first attempt
// for a key opens its window; the count resets once the window has passed.
//
// This is request-rate protection for the HTTP surface. It is unrelated to
// the daily operation quota, which lives in the usage store.
type RateLimiter struct {
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry

	stop     chan struct{}
	stopOnce sync.Once
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop.
// Call Close to stop the loop.
func NewRateLimiter(maxAttempts int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		logger:      logger,
		now:         time.Now,
		entries:     make(map[string]*rateLimitEntry),
		stop:        make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Close stops the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// entry returns the live entry for key, or nil if there is none or its
// window has passed. Callers hold rl.mu.
func (rl *RateLimiter) entry(key string, now time.Time) *rateLimitEntry {
	e, ok := rl.entries[key]
	if !ok || now.Sub(e.windowStart) >= rl.window {
		return nil
	}
	return e
}

// Take records an attempt for key if one is left in the current window.
// It reports whether the attempt was allowed, how many remain, and how
// long until the window resets.
func (rl *RateLimiter) Take(key string) (ok bool, remaining int, reset time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e := rl.entry(key, now)
	if e == nil {
		e = &rateLimitEntry{windowStart: now}
		rl.entries[key] = e
	}
	reset = rl.window - now.Sub(e.windowStart)

	if e.count >= rl.maxAttempts {
		return false, 0, reset
	}
	e.count++
	return true, rl.maxAttempts - e.count, reset
}

// Allow records an attempt for key and reports whether it was allowed.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _, _ := rl.Take(key)
	return ok
}

// RecordFailure counts an attempt without checking the limit. The basic
// auth middleware records only failed logins this way.
func (rl *RateLimiter) RecordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e := rl.entry(key, now)
	if e == nil {
		rl.entries[key] = &rateLimitEntry{count: 1, windowStart: now}
		return
	}
	e.count++
}

// Reset clears the count for key (e.g., after a successful login).
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.entries, key)
}

// TimeUntilReset returns how long until the window for key resets, or 0
// when key has no open window.
func (rl *RateLimiter) TimeUntilReset(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e := rl.entry(key, now)
	if e == nil {
		return 0
	}
	return rl.window - now.Sub(e.windowStart)
}

// Blocked reports whether key has used up its attempts in the current
// window without recording a new attempt.
func (rl *RateLimiter) Blocked(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e := rl.entry(key, rl.now())
	return e != nil && e.count >= rl.maxAttempts
}

// cleanup periodically drops entries whose window has passed.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		now := rl.now()
		for key := range rl.entries {
			if rl.entry(key, now) == nil {
				delete(rl.entries, key)
			}
		}
		rl.mu.Unlock()
	}
}

// =============================================================================
// Rate Limit Middleware
// =============================================================================

// RateLimitMiddleware wraps a rate limiter for use as HTTP middleware.
type RateLimitMiddleware struct {
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewRateLimitMiddleware creates a new rate limit middleware.
func NewRateLimitMiddleware(limiter *RateLimiter, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		logger:  logger,
	}
}

// Limit returns middleware that rate limits requests per caller: the user
// ID when the identity middleware has set one, the client IP otherwise.
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset (seconds).
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateLimitKey(r)
		ok, remaining, reset := m.limiter.Take(key)

		resetSeconds := int(reset.Round(time.Second).Seconds())
		if resetSeconds < 1 {
			resetSeconds = 1
		}
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(m.limiter.maxAttempts))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds))

		if !ok {
			m.logger.Warn("rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"method", r.Method,
			)
			h.Set("Retry-After", strconv.Itoa(resetSeconds))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]string{
					"code":    domain.ERATELIMIT,
					"message": "Too many requests. Please try again later.",
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitKey buckets authenticated callers by user so that users behind
// one NAT do not share a budget.
func rateLimitKey(r *http.Request) string {
	if userID := auth.GetUserIDFromRequest(r); userID != "" {
		return "user:" + userID
	}
	return "ip:" + getClientIP(r)
}

// =============================================================================
// Helpers
// =============================================================================

// getClientIP extracts the client IP, preferring the first X-Forwarded-For
// hop, then X-Real-IP, then the connection's remote address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}
