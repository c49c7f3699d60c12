package model

// BillingEventType is a Stripe event type this service knows about.
type BillingEventType string

const (
	EventCheckoutCompleted       BillingEventType = "checkout.session.completed"
	EventSubscriptionCreated     BillingEventType = "customer.subscription.created"
	EventSubscriptionUpdated     BillingEventType = "customer.subscription.updated"
	EventSubscriptionDeleted     BillingEventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded BillingEventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    BillingEventType = "invoice.payment_failed"
)

// SubscriptionStatus mirrors Stripe subscription statuses.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusPaused            SubscriptionStatus = "paused"
)

// CheckoutModeSubscription is the checkout session mode that grants access.
const CheckoutModeSubscription = "subscription"

// UserIDMetadataKeys are the metadata keys that carry the subject user id,
// in lookup order.
var UserIDMetadataKeys = []string{"user_id", "userId"}

// EntitlementChange is published after the writer applies a target.
type EntitlementChange struct {
	UserID        string `json:"user_id"`
	IsPaid        bool   `json:"is_paid"`
	PaymentActive bool   `json:"payment_active"`
	EventID       string `json:"event_id,omitempty"`
	EventType     string `json:"event_type,omitempty"`
	ChangedAt     int64  `json:"changed_at"`
}

// ChangeSource identifies what caused an entitlement write.
type ChangeSource struct {
	EventID   string
	EventType string
}
