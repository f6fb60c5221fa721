package middleware

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// Basic Auth Middleware Tests
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("metrics data"))
	})
}

func TestBasicAuthMiddleware_AllowsValidCredentials(t *testing.T) {
	mw := NewBasicAuthMiddleware("metrics", "admin", "secret123", discardLogger())
	wrapped := mw.Handler(okHandler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.SetBasicAuth("admin", "secret123")
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "metrics data" {
		t.Errorf("expected body 'metrics data', got %q", rec.Body.String())
	}
}

func TestBasicAuthMiddleware_Rejects(t *testing.T) {
	mw := NewBasicAuthMiddleware("metrics", "admin", "secret123", discardLogger())
	wrapped := mw.Handler(okHandler())

	testCases := []struct {
		name   string
		header string
	}{
		{"no credentials", ""},
		{"wrong username", "Basic " + base64.StdEncoding.EncodeToString([]byte("root:secret123"))},
		{"wrong password", "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:wrong"))},
		{"empty credentials", "Basic " + base64.StdEncoding.EncodeToString([]byte(":"))},
		{"malformed", "Basic not-base64!!"},
		{"bearer scheme", "Bearer secret123"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/metrics", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			wrapped.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="metrics"` {
				t.Errorf("unexpected WWW-Authenticate header %q", got)
			}
		})
	}
}

func TestBasicAuthMiddleware_DisabledWhenNoCredentials(t *testing.T) {
	mw := NewBasicAuthMiddleware("metrics", "", "", discardLogger())
	wrapped := mw.Handler(okHandler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 when auth disabled, got %d", rec.Code)
	}
}

func TestBasicAuthMiddleware_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	mw := NewBasicAuthMiddleware("admin", "ops", string(hash), discardLogger())
	wrapped := mw.Handler(okHandler())

	req := httptest.NewRequest("GET", "/admin/users/u1/quota", nil)
	req.SetBasicAuth("ops", "s3cret")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 for matching password, got %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/admin/users/u1/quota", nil)
	req.SetBasicAuth("ops", string(hash))
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("the hash itself must not authenticate, got %d", rec.Code)
	}
}

func TestBasicAuthMiddleware_FailureLimiter(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute, discardLogger())
	mw := NewBasicAuthMiddleware("admin", "ops", "s3cret", discardLogger()).WithFailureLimiter(limiter)
	wrapped := mw.Handler(okHandler())

	attempt := func(pass string) int {
		req := httptest.NewRequest("POST", "/admin/users/u1/quota/reset", nil)
		req.RemoteAddr = "198.51.100.7:5000"
		req.SetBasicAuth("ops", pass)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if code := attempt("guess"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, code)
		}
	}

	// Even the right password is refused once the IP is blocked.
	if code := attempt("s3cret"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after repeated failures, got %d", code)
	}

	limiter.Reset("198.51.100.7")
	if code := attempt("s3cret"); code != http.StatusOK {
		t.Errorf("expected 200 after reset, got %d", code)
	}
}
