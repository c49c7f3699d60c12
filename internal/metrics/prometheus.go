package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	webhookEvents    *prometheus.CounterVec
	webhookDuration  *prometheus.HistogramVec
	gateDecisions    *prometheus.CounterVec
	changesPublished *prometheus.CounterVec
}

// NewPrometheus registers the service collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lampstand",
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Stripe webhook events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lampstand",
			Subsystem: "billing",
			Name:      "webhook_duration_seconds",
			Help:      "Stripe webhook processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lampstand",
			Subsystem: "credits",
			Name:      "gate_decisions_total",
			Help:      "Credit gate decisions by action type and result.",
		}, []string{"action_type", "decision"}),
		changesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lampstand",
			Subsystem: "entitlements",
			Name:      "changes_published_total",
			Help:      "Entitlement change notifications by publish status.",
		}, []string{"status"}),
	}

	reg.MustRegister(r.webhookEvents, r.webhookDuration, r.gateDecisions, r.changesPublished)
	return r
}

// IncWebhookEvent counts a processed webhook by type and outcome.
func (r *PrometheusRecorder) IncWebhookEvent(eventType, outcome string) {
	r.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// ObserveWebhookDuration records webhook handling latency.
func (r *PrometheusRecorder) ObserveWebhookDuration(eventType string, duration time.Duration) {
	r.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// IncGateDecision counts a gate decision by action.
func (r *PrometheusRecorder) IncGateDecision(action, decision string) {
	r.gateDecisions.WithLabelValues(action, decision).Inc()
}

// IncChangePublished counts change stream publishes.
func (r *PrometheusRecorder) IncChangePublished(status string) {
	r.changesPublished.WithLabelValues(status).Inc()
}
