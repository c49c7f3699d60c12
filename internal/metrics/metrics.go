// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Gate decision labels.
const (
	GateAllowedPaid   = "allowed_paid"
	GateAllowedCredit = "allowed_credit"
	GateDenied        = "denied"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// Webhook ingestion; outcome is "applied", "ignored", "dropped",
	// "rejected" or "failed".
	IncWebhookEvent(eventType, outcome string)
	ObserveWebhookDuration(eventType string, duration time.Duration)

	// Credit gate
	IncGateDecision(action, decision string)

	// Entitlement change stream; status is "success" or "dropped".
	IncChangePublished(status string)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
