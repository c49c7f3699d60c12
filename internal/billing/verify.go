package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrMissingSignature = errors.New("missing Stripe-Signature header")
	ErrInvalidSignature = errors.New("invalid Stripe signature")
)

// Verifier authenticates raw webhook payloads.
type Verifier struct {
	secret string
	opts   webhook.ConstructEventOptions
}

// NewVerifier returns a Verifier for cfg. cfg must carry a webhook secret.
func NewVerifier(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &Verifier{
		secret: cfg.WebhookSecret,
		opts: webhook.ConstructEventOptions{
			Tolerance:                cfg.tolerance(),
			IgnoreAPIVersionMismatch: true,
		},
	}, nil
}

// Verify checks the signature header and decodes the event envelope.
// Every failure wraps ErrMissingSignature or ErrInvalidSignature.
func (v *Verifier) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, v.opts)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}
