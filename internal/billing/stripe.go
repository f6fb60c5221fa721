// Package billing provides the Stripe side of plan changes: verifying
// webhook events and mapping Stripe prices to plans.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/DukeRupert/tollgate/internal/domain"
)

// Service defines the interface for billing operations.
type Service interface {
	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// GetSubscription retrieves a Stripe subscription by ID.
	GetSubscription(subscriptionID string) (*stripe.Subscription, error)

	// PlanForPriceID returns the plan a Stripe price grants, or "" if the
	// price is not one of ours.
	PlanForPriceID(priceID string) domain.Plan
}

// PriceConfig holds the Stripe price IDs for each paid plan.
type PriceConfig struct {
	PremiumMonthlyPriceID string
	PremiumYearlyPriceID  string
	ProMonthlyPriceID     string
	ProYearlyPriceID      string
}

// planByPrice maps each configured price ID to its plan.
func (p PriceConfig) planByPrice() map[string]domain.Plan {
	m := make(map[string]domain.Plan)
	for id, plan := range map[string]domain.Plan{
		p.PremiumMonthlyPriceID: domain.PlanPremium,
		p.PremiumYearlyPriceID:  domain.PlanPremium,
		p.ProMonthlyPriceID:     domain.PlanPro,
		p.ProYearlyPriceID:      domain.PlanPro,
	} {
		if id != "" {
			m[id] = plan
		}
	}
	return m
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	priceToPlan   map[string]domain.Plan
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The webhookSecret is used to verify incoming webhook signatures.
// The prices configure which Stripe price IDs map to which plans.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	return &stripeService{
		webhookSecret: webhookSecret,
		priceToPlan:   prices.planByPrice(),
	}
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	// Event payload shapes used here are stable across API versions, so an
	// account pinned to an older version is still accepted.
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

func (s *stripeService) PlanForPriceID(priceID string) domain.Plan {
	return s.priceToPlan[priceID]
}

// PlanForSubscription returns the plan granted by the first recognized
// price on the subscription.
func PlanForSubscription(svc Service, sub *stripe.Subscription) domain.Plan {
	if sub == nil || sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if plan := svc.PlanForPriceID(item.Price.ID); plan != "" {
			return plan
		}
	}
	return ""
}
