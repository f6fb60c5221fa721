package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/DukeRupert/tollgate/internal/billing"
	"github.com/DukeRupert/tollgate/internal/domain"
)

const testWebhookSecret = "whsec_test_secret"

var testPrices = billing.PriceConfig{
	PremiumMonthlyPriceID: "price_premium_monthly",
	ProYearlyPriceID:      "price_pro_yearly",
}

// fakeBilling verifies signatures for real but serves subscriptions from memory.
type fakeBilling struct {
	billing.Service
	subs map[string]*stripe.Subscription
}

func (f *fakeBilling) GetSubscription(id string) (*stripe.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func newWebhookMux(env *testEnv, fb *fakeBilling) *http.ServeMux {
	if fb.Service == nil {
		fb.Service = billing.NewStripeService("sk_test_unused", testWebhookSecret, testPrices)
	}
	mux := http.NewServeMux()
	NewWebhookHandler(fb, env.listener, env.st, discardLogger()).RegisterRoutes(mux)
	return mux
}

func postEvent(t *testing.T, mux *http.ServeMux, eventType, object string) *httptest.ResponseRecorder {
	t.Helper()
	payload := []byte(fmt.Sprintf(
		`{"id":"evt_test","object":"event","type":%q,"api_version":"2024-06-20","data":{"object":%s}}`,
		eventType, object,
	))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	})

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func subscriptionObject(userID, status, priceID string) string {
	return fmt.Sprintf(
		`{"id":"sub_1","object":"subscription","status":%q,"metadata":{"user_id":%q},`+
			`"items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","price":{"id":%q,"object":"price"}}]}}`,
		status, userID, priceID,
	)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	mux := newWebhookMux(env, &fakeBilling{})

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_BillingNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	mux := http.NewServeMux()
	NewWebhookHandler(nil, env.listener, env.st, discardLogger()).RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_SubscriptionUpdatedAppliesPlan(t *testing.T) {
	env := newTestEnv(t)
	mux := newWebhookMux(env, &fakeBilling{})

	rec := postEvent(t, mux, "customer.subscription.updated",
		subscriptionObject("user-1", "active", "price_pro_yearly"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanPro, env.plan(t, "user-1"))
}

func TestWebhook_SubscriptionStatusDowngrades(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.quota.UpdatePlan(context.Background(), "user-1", "premium"))
	mux := newWebhookMux(env, &fakeBilling{})

	rec := postEvent(t, mux, "customer.subscription.updated",
		subscriptionObject("user-1", "unpaid", "price_premium_monthly"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanFree, env.plan(t, "user-1"))
}

func TestWebhook_UnknownPriceIgnored(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.quota.UpdatePlan(context.Background(), "user-1", "premium"))
	mux := newWebhookMux(env, &fakeBilling{})

	rec := postEvent(t, mux, "customer.subscription.created",
		subscriptionObject("user-1", "active", "price_someone_elses"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanPremium, env.plan(t, "user-1"))
}

func TestWebhook_SubscriptionDeleted(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.quota.UpdatePlan(context.Background(), "user-1", "pro"))
	env.seedUsage(t, "user-1", 50)
	mux := newWebhookMux(env, &fakeBilling{})

	rec := postEvent(t, mux, "customer.subscription.deleted",
		subscriptionObject("user-1", "canceled", "price_pro_yearly"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanFree, env.plan(t, "user-1"))
	assert.Equal(t, int64(50), env.count(t, "user-1"), "usage is untouched by a downgrade")

	err := env.quota.CheckQuota(context.Background(), "user-1")
	assert.True(t, domain.IsQuotaExceeded(err), "the free limit applies immediately")
}

func TestWebhook_MissingUserIgnored(t *testing.T) {
	env := newTestEnv(t)
	mux := newWebhookMux(env, &fakeBilling{})

	rec := postEvent(t, mux, "customer.subscription.updated",
		`{"id":"sub_1","object":"subscription","status":"active","metadata":{}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_CheckoutCompleted(t *testing.T) {
	env := newTestEnv(t)
	fb := &fakeBilling{subs: map[string]*stripe.Subscription{
		"sub_1": {
			ID:     "sub_1",
			Status: stripe.SubscriptionStatusActive,
			Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_premium_monthly"}},
			}},
		},
	}}
	mux := newWebhookMux(env, fb)

	rec := postEvent(t, mux, "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"user-1","subscription":"sub_1",`+
			`"customer_details":{"email":"ada@example.com","name":"Ada"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PlanPremium, env.plan(t, "user-1"))

	contact, err := env.st.ReadContact(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", contact.Email)
}

func TestWebhook_CheckoutSubscriptionFetchFailsIsRetried(t *testing.T) {
	env := newTestEnv(t)
	mux := newWebhookMux(env, &fakeBilling{})

	rec := postEvent(t, mux, "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"user-1","subscription":"sub_missing"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_UnhandledEvent(t *testing.T) {
	env := newTestEnv(t)
	mux := newWebhookMux(env, &fakeBilling{})

	rec := postEvent(t, mux, "invoice.created", `{"id":"in_1","object":"invoice"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}
