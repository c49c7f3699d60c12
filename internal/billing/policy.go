package billing

import (
	"encoding/json"
	"fmt"

	"github.com/lampstand/entitlements/internal/model"
)

// Resolution names where the subject user id is read from.
type Resolution int

const (
	// ResolveMetadata reads the event object's own metadata.
	ResolveMetadata Resolution = iota
	// ResolveMetadataOrSubscription falls back to fetching the referenced
	// subscription when the object's metadata has no user id.
	ResolveMetadataOrSubscription
	// ResolveSubscription always fetches the referenced subscription.
	ResolveSubscription
)

func (r Resolution) String() string {
	switch r {
	case ResolveMetadata:
		return "metadata"
	case ResolveMetadataOrSubscription:
		return "metadata_or_subscription"
	case ResolveSubscription:
		return "subscription_lookup"
	default:
		return "unknown"
	}
}

// UnresolvedPolicy says what happens when no subject user can be found.
type UnresolvedPolicy int

const (
	// Drop acknowledges the event and logs a warning without mutating.
	Drop UnresolvedPolicy = iota
	// Fail surfaces an error so the sender retries.
	Fail
)

// subject is what a rule extracts from an event object before resolution.
type subject struct {
	UserID         string
	SubscriptionID string
	Mode           string
	Status         model.SubscriptionStatus
}

// Rule is the handling policy for one event type.
type Rule struct {
	Resolution   Resolution
	OnUnresolved UnresolvedPolicy

	decode func(raw json.RawMessage) (subject, error)
	// target returns ok=false when the event leaves entitlements unchanged.
	target func(s subject) (model.Target, bool)
}

// DefaultPolicy returns the event policy table. Types not in the table are
// acknowledged and ignored.
func DefaultPolicy() map[model.BillingEventType]Rule {
	subscriptionRule := Rule{
		Resolution:   ResolveMetadata,
		OnUnresolved: Drop,
		decode:       decodeSubscription,
		target:       targetFromStatus,
	}

	return map[model.BillingEventType]Rule{
		model.EventCheckoutCompleted: {
			Resolution:   ResolveMetadataOrSubscription,
			OnUnresolved: Drop,
			decode:       decodeCheckout,
			target: func(s subject) (model.Target, bool) {
				if s.Mode != model.CheckoutModeSubscription {
					return model.Target{}, false
				}
				return paidTarget(s), true
			},
		},
		model.EventSubscriptionCreated: subscriptionRule,
		model.EventSubscriptionUpdated: subscriptionRule,
		model.EventSubscriptionDeleted: {
			Resolution:   ResolveMetadata,
			OnUnresolved: Drop,
			decode:       decodeSubscription,
			target:       unpaidTarget,
		},
		model.EventInvoicePaymentSucceeded: {
			Resolution:   ResolveSubscription,
			OnUnresolved: Drop,
			decode:       decodeInvoice,
			target:       alwaysPaid,
		},
		model.EventInvoicePaymentFailed: {
			Resolution:   ResolveSubscription,
			OnUnresolved: Drop,
			decode:       decodeInvoice,
			target:       unpaidTarget,
		},
	}
}

func paidTarget(s subject) model.Target {
	return model.Target{IsPaid: true, PaymentActive: true, SubscriptionID: s.SubscriptionID}
}

func alwaysPaid(s subject) (model.Target, bool) {
	return paidTarget(s), true
}

func unpaidTarget(s subject) (model.Target, bool) {
	return model.Target{IsPaid: false, PaymentActive: false, SubscriptionID: s.SubscriptionID}, true
}

func targetFromStatus(s subject) (model.Target, bool) {
	paid, known := PaidForStatus(s.Status)
	if !known {
		return model.Target{}, false
	}
	return model.Target{IsPaid: paid, PaymentActive: paid, SubscriptionID: s.SubscriptionID}, true
}

func decodeCheckout(raw json.RawMessage) (subject, error) {
	var session checkoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return subject{}, fmt.Errorf("decode checkout session: %w", err)
	}
	return subject{
		UserID:         userIDFromMetadata(session.Metadata),
		SubscriptionID: string(session.Subscription),
		Mode:           session.Mode,
	}, nil
}

func decodeSubscription(raw json.RawMessage) (subject, error) {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return subject{}, fmt.Errorf("decode subscription: %w", err)
	}
	return subject{
		UserID:         userIDFromMetadata(sub.Metadata),
		SubscriptionID: sub.ID,
		Status:         model.SubscriptionStatus(sub.Status),
	}, nil
}

func decodeInvoice(raw json.RawMessage) (subject, error) {
	var inv invoiceObject
	if err := json.Unmarshal(raw, &inv); err != nil {
		return subject{}, fmt.Errorf("decode invoice: %w", err)
	}
	return subject{SubscriptionID: inv.subscriptionID()}, nil
}
