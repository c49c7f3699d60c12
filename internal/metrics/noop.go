package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncWebhookEvent(eventType, outcome string) {}

func (n *NoopRecorder) ObserveWebhookDuration(eventType string, duration time.Duration) {}

func (n *NoopRecorder) IncGateDecision(action, decision string) {}

func (n *NoopRecorder) IncChangePublished(status string) {}
