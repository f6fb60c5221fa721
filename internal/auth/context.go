// Package auth provides request context helpers.
//
// Authentication is performed upstream; this package only carries the stable
// user ID the auth collaborator supplies, plus the request ID assigned at the
// edge. It is imported by both middleware and handler packages without
// causing import cycles.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// userIDContextKey is the key used to store the authenticated user ID in context.
	userIDContextKey contextKey = "user_id"

	requestIDContextKey contextKey = "request_id"
)

// GetUserID retrieves the authenticated user ID from the context.
//
// Returns "" if no user is authenticated.
//
// Usage:
//
//	userID := auth.GetUserID(r.Context())
//	if userID == "" {
//	    // Handle unauthenticated request
//	}
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetUserIDFromRequest retrieves the authenticated user ID from the request context.
func GetUserIDFromRequest(r *http.Request) string {
	return GetUserID(r.Context())
}

// SetUserID stores a user ID in the context.
//
// This is called by the identity middleware after reading the header set by
// the upstream auth proxy.
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// SetRequestID stores the request ID in the context.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// GetRequestID returns the request ID, or "" outside a logged request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
