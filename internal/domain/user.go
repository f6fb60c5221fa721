// Package domain contains core business types and interfaces.
//
// This file defines the user-facing types the quota engine consumes from its
// collaborators: subscription state from billing and contact details for
// notifications. Identity itself belongs to the auth collaborator; the
// engine only ever sees an opaque user ID string.
package domain

import "strings"

// SubscriptionStatus represents the possible states of a user's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// GrantsPaidPlan returns true if a subscription in this status keeps its
// paid plan. Past-due subscriptions keep access while Stripe retries payment.
func (s SubscriptionStatus) GrantsPaidPlan() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	}
	return false
}

// Contact is where quota notifications for a user are delivered.
type Contact struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Validate checks the contact has a deliverable address.
func (c *Contact) Validate(op string) error {
	if strings.TrimSpace(c.UserID) == "" {
		return NewValidationError(op, "user_id", "user ID is required")
	}
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return NewValidationError(op, "email", "email is required")
	}
	if !strings.Contains(email, "@") {
		return NewValidationError(op, "email", "email is not valid")
	}
	return nil
}
