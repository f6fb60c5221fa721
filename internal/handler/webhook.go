// Package handler contains the HTTP handlers for the quota service.
//
// This file implements the Stripe webhook handler that feeds subscription
// lifecycle events into the plan change listener.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
//
// Stripe objects are tied to users through metadata["user_id"] on the
// subscription and client_reference_id on the checkout session.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/tollgate/internal/billing"
	"github.com/DukeRupert/tollgate/internal/domain"
	"github.com/DukeRupert/tollgate/internal/service"
	"github.com/DukeRupert/tollgate/internal/store"
)

// UserIDMetadataKey is the subscription metadata key holding the user ID.
const UserIDMetadataKey = "user_id"

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing  billing.Service
	listener service.PlanChangeListener
	contacts store.Contacts
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(
	billingService billing.Service,
	listener service.PlanChangeListener,
	contacts store.Contacts,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		billing:  billingService,
		listener: listener,
		contacts: contacts,
		logger:   logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC; requests are authenticated by signature.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// Events that cannot be applied because of a store fault get a 500 so
// Stripe redelivers them; everything else is acknowledged with a 200.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Verify signature
	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Processing outlives the request if Stripe hangs up early.
	ctx := context.WithoutCancel(r.Context())

	// Route to event-specific handler
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created":
		err = h.processSubscriptionEvent(ctx, event, "created")
	case "customer.subscription.updated":
		err = h.processSubscriptionEvent(ctx, event, "updated")
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	if err != nil && retryable(err) {
		h.logger.Error("webhook event not applied, requesting redelivery",
			"type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// retryable reports whether redelivering the event could succeed.
func retryable(err error) bool {
	switch domain.ErrorCode(err) {
	case domain.EINVALID, domain.EINVALIDPLAN:
		return false
	}
	return true
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return nil
	}

	userID := session.ClientReferenceID
	if userID == "" {
		h.logger.Warn("checkout session missing client reference", "session_id", session.ID)
		return nil
	}

	// Remember where to send quota notices.
	if d := session.CustomerDetails; d != nil && d.Email != "" {
		contact := domain.Contact{UserID: userID, Email: d.Email, Name: d.Name}
		if err := h.contacts.WriteContact(ctx, contact); err != nil {
			h.logger.Error("failed to save contact on checkout", "error", err, "user_id", userID)
			return err
		}
	}

	if session.Subscription == nil {
		return nil
	}

	sub, err := h.billing.GetSubscription(session.Subscription.ID)
	if err != nil {
		h.logger.Error("failed to fetch subscription on checkout",
			"error", err, "user_id", userID, "subscription_id", session.Subscription.ID)
		return err
	}

	return h.applySubscription(ctx, userID, sub, "checkout")
}

func (h *WebhookHandler) processSubscriptionEvent(ctx context.Context, event stripe.Event, action string) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err, "action", action)
		return nil
	}

	userID := sub.Metadata[UserIDMetadataKey]
	if userID == "" {
		h.logger.Warn("subscription event missing user", "subscription_id", sub.ID, "action", action)
		return nil
	}

	return h.applySubscription(ctx, userID, &sub, action)
}

func (h *WebhookHandler) applySubscription(ctx context.Context, userID string, sub *stripe.Subscription, action string) error {
	status := domain.SubscriptionStatus(sub.Status)
	plan := billing.PlanForSubscription(h.billing, sub)

	if plan == "" && status.GrantsPaidPlan() {
		h.logger.Warn("subscription has no recognized price, ignoring",
			"user_id", userID, "subscription_id", sub.ID, "action", action)
		return nil
	}

	if err := h.listener.OnSubscriptionStatus(ctx, userID, status, string(plan)); err != nil {
		h.logger.Error("failed to apply subscription", "error", err, "user_id", userID, "action", action)
		return err
	}

	h.logger.Info("subscription event processed",
		"user_id", userID, "action", action, "status", status, "plan", plan)
	return nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription deleted event", "error", err)
		return nil
	}

	userID := sub.Metadata[UserIDMetadataKey]
	if userID == "" {
		h.logger.Warn("subscription deleted event missing user", "subscription_id", sub.ID)
		return nil
	}

	if err := h.listener.OnSubscriptionCanceled(ctx, userID); err != nil {
		h.logger.Error("failed to downgrade canceled subscription", "error", err, "user_id", userID)
		return err
	}

	h.logger.Info("subscription deleted", "user_id", userID, "subscription_id", sub.ID)
	return nil
}
