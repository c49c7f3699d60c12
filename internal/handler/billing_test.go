package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/lampstand/entitlements/internal/billing"
	"github.com/lampstand/entitlements/internal/handler/dto"
	"github.com/lampstand/entitlements/internal/service"
	"github.com/lampstand/entitlements/internal/testutil"
)

const webhookSecret = "whsec_handler_test"

type stubLookup map[string]*billing.Subscription

func (l stubLookup) Subscription(_ context.Context, id string) (*billing.Subscription, error) {
	sub, ok := l[id]
	if !ok {
		return nil, billing.ErrSubscriptionLookup
	}
	return sub, nil
}

type billingFixture struct {
	router http.Handler
	store  *testutil.MemoryStore
}

func newBillingFixture(t *testing.T, lookup billing.SubscriptionLookup) *billingFixture {
	t.Helper()
	store := testutil.NewMemoryStore()
	svc := service.NewEntitlementService(store, nil, nil, 5, discardLogger(), nil)

	verifier, err := billing.NewVerifier(billing.Config{WebhookSecret: webhookSecret})
	require.NoError(t, err)
	processor := billing.NewProcessor(lookup, svc, discardLogger(), nil)

	h := NewBillingHandler(verifier, processor, discardLogger())
	return &billingFixture{router: http.HandlerFunc(h.StripeWebhook), store: store}
}

func signedRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func stripeEvent(eventType, object string) string {
	return `{"id":"evt_1","object":"event","type":"` + eventType + `","data":{"object":` + object + `}}`
}

func TestStripeWebhook_SubscriptionPastDueRevokes(t *testing.T) {
	f := newBillingFixture(t, stubLookup{})
	f.store.Put(testutil.NewPaidEntitlement(t, "u1"))

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, signedRequest(t, stripeEvent("customer.subscription.updated",
		`{"id":"sub_1","object":"subscription","status":"past_due","metadata":{"user_id":"u1"}}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var ack dto.WebhookAck
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ack))
	assert.True(t, ack.Received)

	e := f.store.Record("u1")
	require.NotNil(t, e)
	assert.False(t, e.IsPaid)
	assert.False(t, e.PaymentActive)
}

func TestStripeWebhook_InvoiceResolvesThroughSubscription(t *testing.T) {
	f := newBillingFixture(t, stubLookup{
		"sub_1": {ID: "sub_1", Status: "active", Metadata: map[string]string{"user_id": "u2"}},
	})

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, signedRequest(t, stripeEvent("invoice.payment_succeeded",
		`{"id":"in_1","object":"invoice","subscription":"sub_1"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	e := f.store.Record("u2")
	require.NotNil(t, e)
	assert.True(t, e.IsPaid)
	assert.True(t, e.PaymentActive)
}

func TestStripeWebhook_UnhandledAndUnresolvedAreAcknowledged(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"unhandled type", stripeEvent("customer.created", `{"id":"cus_1","object":"customer"}`)},
		{"no user metadata", stripeEvent("customer.subscription.updated", `{"id":"sub_9","object":"subscription","status":"active","metadata":{}}`)},
		{"unknown subscription", stripeEvent("invoice.payment_failed", `{"id":"in_9","object":"invoice","subscription":"sub_missing"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture(t, stubLookup{})

			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, signedRequest(t, tt.payload))

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestStripeWebhook_SignatureFailures(t *testing.T) {
	payload := stripeEvent("customer.subscription.updated",
		`{"id":"sub_1","object":"subscription","status":"active","metadata":{"user_id":"u1"}}`)

	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{"missing header", "", "MISSING_SIGNATURE"},
		{"garbage header", "t=1,v1=deadbeef", "INVALID_SIGNATURE"},
		{"wrong secret", webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   []byte(payload),
			Secret:    "whsec_other",
			Timestamp: time.Now(),
			Scheme:    "v1",
		}).Header, "INVALID_SIGNATURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBillingFixture(t, stubLookup{})

			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
			if tt.header != "" {
				req.Header.Set("Stripe-Signature", tt.header)
			}
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			assert.Nil(t, f.store.Record("u1"))
		})
	}
}

func TestStripeWebhook_OversizedBody(t *testing.T) {
	f := newBillingFixture(t, stubLookup{})

	body := bytes.Repeat([]byte("x"), MaxWebhookBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_BODY", decodeError(t, rec).Code)
}

func TestStripeWebhook_PersistenceFailureAsksForRetry(t *testing.T) {
	f := newBillingFixture(t, stubLookup{})
	f.store.Err = errors.New("connection refused")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, signedRequest(t, stripeEvent("customer.subscription.deleted",
		`{"id":"sub_1","object":"subscription","status":"canceled","metadata":{"user_id":"u1"}}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "PROCESSING_FAILED", decodeError(t, rec).Code)
}

func TestStripeWebhook_RedeliveryConverges(t *testing.T) {
	f := newBillingFixture(t, stubLookup{})
	payload := stripeEvent("checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","mode":"subscription","subscription":"sub_1","metadata":{"user_id":"u3"}}`)

	for range 3 {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, signedRequest(t, payload))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	e := f.store.Record("u3")
	require.NotNil(t, e)
	assert.True(t, e.IsPaid)
	assert.Equal(t, "sub_1", e.SubscriptionID)
}
