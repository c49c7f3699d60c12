package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/lampstand/entitlements/internal/model"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) stripe.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
}

func TestNewStripeLookup_RequiresKey(t *testing.T) {
	_, err := NewStripeLookup(Config{WebhookSecret: testSecret}, nil)
	assert.ErrorIs(t, err, ErrMissingSecretKey)
}

func TestStripeLookup_Subscription(t *testing.T) {
	var gotAuth, gotPath string
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_1","object":"subscription","status":"active","metadata":{"user_id":"u2"}}`))
	})

	lookup, err := NewStripeLookup(Config{SecretKey: "sk_test_lookup", WebhookSecret: testSecret}, backend)
	require.NoError(t, err)

	sub, err := lookup.Subscription(context.Background(), "sub_1")
	require.NoError(t, err)

	assert.Equal(t, "/v1/subscriptions/sub_1", gotPath)
	assert.Equal(t, "Bearer sk_test_lookup", gotAuth)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, model.StatusActive, sub.Status)
	assert.Equal(t, "u2", sub.Metadata["user_id"])
}

func TestStripeLookup_NotFound(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such subscription"}}`))
	})

	lookup, err := NewStripeLookup(Config{SecretKey: "sk_test_lookup", WebhookSecret: testSecret}, backend)
	require.NoError(t, err)

	_, err = lookup.Subscription(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, ErrSubscriptionLookup)
}
