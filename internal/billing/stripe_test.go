package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/DukeRupert/tollgate/internal/domain"
)

const testWebhookSecret = "whsec_test_secret"

func newTestService() Service {
	return NewStripeService("sk_test_123", testWebhookSecret, PriceConfig{
		PremiumMonthlyPriceID: "price_premium_m",
		PremiumYearlyPriceID:  "price_premium_y",
		ProMonthlyPriceID:     "price_pro_m",
	})
}

func TestPlanForPriceID(t *testing.T) {
	svc := newTestService()

	tests := []struct {
		priceID string
		want    domain.Plan
	}{
		{"price_premium_m", domain.PlanPremium},
		{"price_premium_y", domain.PlanPremium},
		{"price_pro_m", domain.PlanPro},
		{"price_unknown", ""},
		{"", ""}, // unset yearly pro price must not match empty IDs
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, svc.PlanForPriceID(tt.priceID), tt.priceID)
	}
}

func TestPlanForSubscription(t *testing.T) {
	svc := newTestService()

	sub := &stripe.Subscription{Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
		{Price: &stripe.Price{ID: "price_addon"}},
		{Price: &stripe.Price{ID: "price_pro_m"}},
	}}}
	assert.Equal(t, domain.PlanPro, PlanForSubscription(svc, sub))
	assert.Equal(t, domain.Plan(""), PlanForSubscription(svc, &stripe.Subscription{}))
	assert.Equal(t, domain.Plan(""), PlanForSubscription(svc, nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	svc := newTestService()
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.deleted","api_version":"2020-08-27","data":{"object":{}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	event, err := svc.VerifyWebhookSignature(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, stripe.EventType("customer.subscription.deleted"), event.Type)

	_, err = svc.VerifyWebhookSignature(payload, "t=1,v1=deadbeef")
	assert.Error(t, err)
}
