package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/tollgate/internal/auth"
)

// serveLogged runs one request through the logging middleware and returns
// the recorder and the captured log output.
func serveLogged(t *testing.T, req *http.Request, next http.HandlerFunc) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if req.RemoteAddr == "" {
		req.RemoteAddr = "192.168.1.1:12345"
	}
	rec := httptest.NewRecorder()
	NewRequestLoggingMiddleware(logger).Handler(next).ServeHTTP(rec, req)
	return rec, buf.String()
}

func respondWith(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

func TestRequestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/quota", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 TestBrowser")
	req.Header.Set("X-Forwarded-For", "203.0.113.195")

	_, out := serveLogged(t, req, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"plan":"free"}`))
	})

	for _, want := range []string{
		"method=GET",
		"path=/api/quota",
		"status=200",
		"bytes=15",
		"duration_ms=",
		"ip=203.0.113.195",
		"TestBrowser",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log should contain %q, got: %s", want, out)
		}
	}
}

func TestRequestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		level  string
		prefix string
	}{
		{"ok", http.StatusOK, "level=INFO", `msg=request `},
		{"not found", http.StatusNotFound, "level=INFO", `msg=request `},
		{"quota exceeded", http.StatusTooManyRequests, "level=INFO", `msg="request throttled"`},
		{"store unavailable", http.StatusServiceUnavailable, "level=WARN", `msg=request `},
		{"internal", http.StatusInternalServerError, "level=WARN", `msg=request `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out := serveLogged(t, httptest.NewRequest("POST", "/api/quota/enforce", nil), respondWith(tt.code))

			if !strings.Contains(out, tt.level) {
				t.Errorf("expected %s, got: %s", tt.level, out)
			}
			if !strings.Contains(out, tt.prefix) {
				t.Errorf("expected %s, got: %s", tt.prefix, out)
			}
		})
	}
}

func TestRequestLoggingMiddleware_FirstStatusWins(t *testing.T) {
	_, out := serveLogged(t, httptest.NewRequest("GET", "/api/quota", nil), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.WriteHeader(http.StatusOK)
	})

	if !strings.Contains(out, "status=429") {
		t.Errorf("a superfluous WriteHeader must not change the logged status, got: %s", out)
	}
}

func TestRequestLoggingMiddleware_RedactsSensitiveQueryParams(t *testing.T) {
	tests := []struct {
		target string
		secret string
		keep   string
	}{
		{"/api/quota?api_key=secrettoken123", "secrettoken123", "api_key=[REDACTED]"},
		{"/admin/users/u1/plan?access_token=abc123secret&page=2", "abc123secret", "page=2"},
		{"/api/quota?Token=UPPER", "UPPER", "Token=[REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			_, out := serveLogged(t, httptest.NewRequest("GET", tt.target, nil), respondWith(http.StatusOK))

			if strings.Contains(out, tt.secret) {
				t.Errorf("log should NOT contain %q, got: %s", tt.secret, out)
			}
			if !strings.Contains(out, tt.keep) {
				t.Errorf("log should contain %q, got: %s", tt.keep, out)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		path, query, want string
	}{
		{"/api/quota", "", "/api/quota"},
		{"/api/quota", "flag", "/api/quota"},
		{"/api/quota", "a=1&secret=x", "/api/quota?a=1&secret=[REDACTED]"},
		{"/api/quota", "a=b=c", "/api/quota?a=b=c"},
	}
	for _, tt := range tests {
		if got := sanitizePath(tt.path, tt.query); got != tt.want {
			t.Errorf("sanitizePath(%q, %q) = %q, want %q", tt.path, tt.query, got, tt.want)
		}
	}
}

func TestRequestLoggingMiddleware_PassesResponseThrough(t *testing.T) {
	handlerCalled := false
	rec, _ := serveLogged(t, httptest.NewRequest("POST", "/api/quota/usage", nil), func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("response body"))
	})

	if !handlerCalled {
		t.Error("handler should have been called")
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "value" {
		t.Error("custom header should be preserved")
	}
	if rec.Body.String() != "response body" {
		t.Errorf("response body should be preserved, got: %s", rec.Body.String())
	}
}

func TestRequestLoggingMiddleware_SkipsQuietPaths(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec, out := serveLogged(t, httptest.NewRequest("GET", path, nil), respondWith(http.StatusOK))

			if out != "" {
				t.Errorf("%s should not be logged, got: %s", path, out)
			}
			if rec.Header().Get(RequestIDHeader) == "" {
				t.Error("quiet paths still get a request ID")
			}
		})
	}

	// Only exact segments are quiet.
	_, out := serveLogged(t, httptest.NewRequest("GET", "/healthz-report", nil), respondWith(http.StatusOK))
	if out == "" {
		t.Error("/healthz-report is not a quiet path")
	}
}

func TestRequestLoggingMiddleware_RequestID(t *testing.T) {
	var seen string
	capture := func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetRequestID(r.Context())
	}

	t.Run("generated when absent", func(t *testing.T) {
		rec, out := serveLogged(t, httptest.NewRequest("GET", "/api/quota", nil), capture)

		generated := rec.Header().Get(RequestIDHeader)
		if generated == "" {
			t.Fatal("expected a generated request ID")
		}
		if seen != generated {
			t.Errorf("context request ID = %q, want %q", seen, generated)
		}
		if !strings.Contains(out, generated) {
			t.Errorf("log should contain request ID %s, got: %s", generated, out)
		}
	})

	t.Run("propagated when present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/quota", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rec, _ := serveLogged(t, req, capture)

		if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected propagated request ID req-123, got %q", got)
		}
		if seen != "req-123" {
			t.Errorf("context request ID = %q, want req-123", seen)
		}
	})

	t.Run("replaced when oversized", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/quota", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
		rec, _ := serveLogged(t, req, capture)

		if got := rec.Header().Get(RequestIDHeader); len(got) > maxRequestIDLength {
			t.Errorf("oversized request ID should be replaced, got %d bytes", len(got))
		}
	})
}

func TestRequestLoggingMiddleware_LogsUserID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	identity := NewIdentityMiddleware("", discardLogger())
	wrapped := identity.WithUser(NewRequestLoggingMiddleware(logger).Handler(respondWith(http.StatusOK)))

	req := httptest.NewRequest("GET", "/api/quota", nil)
	req.Header.Set(DefaultUserIDHeader, "user-42")
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "user_id=user-42") {
		t.Errorf("log should contain user ID, got: %s", buf.String())
	}
}
