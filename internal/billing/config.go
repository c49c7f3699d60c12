// Package billing turns verified Stripe webhook events into entitlement targets.
package billing

import (
	"errors"
	"strings"
	"time"
)

// DefaultTolerance is how old a signed payload may be before it is rejected.
const DefaultTolerance = 300 * time.Second

var (
	ErrMissingWebhookSecret = errors.New("stripe webhook secret is not configured")
	ErrMissingSecretKey     = errors.New("stripe secret key is not configured")
)

// Config holds the Stripe credentials, built once at startup.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Tolerance     time.Duration
}

// Validate reports missing credentials.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WebhookSecret) == "" {
		return ErrMissingWebhookSecret
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return ErrMissingSecretKey
	}
	return nil
}

func (c Config) tolerance() time.Duration {
	if c.Tolerance <= 0 {
		return DefaultTolerance
	}
	return c.Tolerance
}
