package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/tollgate/internal/auth"
)

// =============================================================================
// Identity Middleware Tests
// =============================================================================

func captureUserID(got *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = auth.GetUserIDFromRequest(r)
		w.WriteHeader(http.StatusOK)
	})
}

func TestWithUser_SetsUserIDFromHeader(t *testing.T) {
	mw := NewIdentityMiddleware("", discardLogger())

	var got string
	req := httptest.NewRequest("GET", "/api/quota", nil)
	req.Header.Set("X-User-ID", "  user-1 ")
	rec := httptest.NewRecorder()
	mw.WithUser(captureUserID(&got)).ServeHTTP(rec, req)

	if got != "user-1" {
		t.Errorf("expected user-1, got %q", got)
	}
}

func TestWithUser_CustomHeader(t *testing.T) {
	mw := NewIdentityMiddleware("X-Forwarded-User", discardLogger())

	var got string
	req := httptest.NewRequest("GET", "/api/quota", nil)
	req.Header.Set("X-User-ID", "ignored")
	req.Header.Set("X-Forwarded-User", "user-2")
	rec := httptest.NewRecorder()
	mw.WithUser(captureUserID(&got)).ServeHTTP(rec, req)

	if got != "user-2" {
		t.Errorf("expected user-2, got %q", got)
	}
}

func TestWithUser_IgnoresMalformedHeader(t *testing.T) {
	mw := NewIdentityMiddleware("", discardLogger())

	testCases := []struct {
		name  string
		value string
	}{
		{"too long", strings.Repeat("a", maxUserIDLength+1)},
		{"empty", "   "},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := "unset"
			req := httptest.NewRequest("GET", "/api/quota", nil)
			req.Header.Set("X-User-ID", tc.value)
			rec := httptest.NewRecorder()
			mw.WithUser(captureUserID(&got)).ServeHTTP(rec, req)

			if got != "" {
				t.Errorf("expected no user ID, got %q", got)
			}
			if rec.Code != http.StatusOK {
				t.Errorf("WithUser must never reject, got %d", rec.Code)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	mw := NewIdentityMiddleware("", discardLogger())
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	wrapped := Stack(mw.WithUser, mw.RequireUser)(next)

	req := httptest.NewRequest("GET", "/api/quota", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", rec.Code)
	}
	if called {
		t.Error("handler must not run without identity")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error, got %q", ct)
	}

	req = httptest.NewRequest("GET", "/api/quota", nil)
	req.Header.Set("X-User-ID", "user-1")
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if !called {
		t.Error("handler should run with identity")
	}
}

func TestStack_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("first"), mark("second"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if strings.Join(order, ",") != "first,second,handler" {
		t.Errorf("unexpected order %v", order)
	}
}
