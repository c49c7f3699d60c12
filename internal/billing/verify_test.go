package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_123"

const testEventJSON = `{"id":"evt_1","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","status":"active","metadata":{"user_id":"u1"}}}}`

func sign(payload, secret string, at time.Time) *webhook.SignedPayload {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: at,
		Scheme:    "v1",
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"complete", Config{SecretKey: "sk_test", WebhookSecret: testSecret}, nil},
		{"missing webhook secret", Config{SecretKey: "sk_test"}, ErrMissingWebhookSecret},
		{"blank webhook secret", Config{SecretKey: "sk_test", WebhookSecret: "  "}, ErrMissingWebhookSecret},
		{"missing key", Config{WebhookSecret: testSecret}, ErrMissingSecretKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.ErrorIs(t, err, ErrMissingWebhookSecret)
}

func TestVerify_ValidSignature(t *testing.T) {
	v, err := NewVerifier(Config{WebhookSecret: testSecret})
	require.NoError(t, err)

	signed := sign(testEventJSON, testSecret, time.Now())
	event, err := v.Verify(signed.Payload, signed.Header)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "customer.subscription.updated", string(event.Type))
	require.NotNil(t, event.Data)
	assert.JSONEq(t, `{"id":"sub_1","status":"active","metadata":{"user_id":"u1"}}`, string(event.Data.Raw))
}

func TestVerify_Failures(t *testing.T) {
	v, err := NewVerifier(Config{WebhookSecret: testSecret, Tolerance: time.Minute})
	require.NoError(t, err)

	good := sign(testEventJSON, testSecret, time.Now())
	wrongSecret := sign(testEventJSON, "whsec_wrong", time.Now())
	stale := sign(testEventJSON, testSecret, time.Now().Add(-10*time.Minute))

	tests := []struct {
		name    string
		payload []byte
		header  string
		wantErr error
	}{
		{"missing header", good.Payload, "", ErrMissingSignature},
		{"wrong secret", wrongSecret.Payload, wrongSecret.Header, ErrInvalidSignature},
		{"tampered body", []byte(`{"id":"evt_2"}`), good.Header, ErrInvalidSignature},
		{"expired timestamp", stale.Payload, stale.Header, ErrInvalidSignature},
		{"garbage header", good.Payload, "t=abc,v1=zzz", ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.payload, tt.header)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
