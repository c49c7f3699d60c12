package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/lampstand/entitlements/internal/model"
)

// ErrSubscriptionLookup wraps failures fetching a subscription from Stripe.
var ErrSubscriptionLookup = errors.New("subscription lookup failed")

// Subscription is the part of a Stripe subscription used for resolution.
type Subscription struct {
	ID       string
	Status   model.SubscriptionStatus
	Metadata map[string]string
}

// SubscriptionLookup fetches a subscription by id.
type SubscriptionLookup interface {
	Subscription(ctx context.Context, id string) (*Subscription, error)
}

// StripeLookup fetches subscriptions through the Stripe API with its own key.
type StripeLookup struct {
	client subscription.Client
}

// NewStripeLookup returns a lookup bound to cfg.SecretKey. A nil backend
// selects the default Stripe API backend.
func NewStripeLookup(cfg Config, backend stripe.Backend) (*StripeLookup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeLookup{
		client: subscription.Client{B: backend, Key: cfg.SecretKey},
	}, nil
}

// Subscription retrieves the subscription with the given id.
func (l *StripeLookup) Subscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := l.client.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSubscriptionLookup, id, err)
	}
	return &Subscription{
		ID:       sub.ID,
		Status:   model.SubscriptionStatus(sub.Status),
		Metadata: sub.Metadata,
	}, nil
}
