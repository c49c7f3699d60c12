package metrics

import (
	"maps"
	"sync"
	"time"
)

// Snapshot captures current in-memory counters keyed by "label/label".
type Snapshot struct {
	WebhookEvents    map[string]uint64
	WebhookDurations uint64
	GateDecisions    map[string]uint64
	ChangesPublished map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu               sync.Mutex
	webhookEvents    map[string]uint64
	webhookDurations uint64
	gateDecisions    map[string]uint64
	changesPublished map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		webhookEvents:    make(map[string]uint64),
		gateDecisions:    make(map[string]uint64),
		changesPublished: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		WebhookEvents:    maps.Clone(m.webhookEvents),
		WebhookDurations: m.webhookDurations,
		GateDecisions:    maps.Clone(m.gateDecisions),
		ChangesPublished: maps.Clone(m.changesPublished),
	}
}

// IncWebhookEvent counts a processed webhook by type and outcome.
func (m *InMemoryRecorder) IncWebhookEvent(eventType, outcome string) {
	m.mu.Lock()
	m.webhookEvents[eventType+"/"+outcome]++
	m.mu.Unlock()
}

// ObserveWebhookDuration counts observations only.
func (m *InMemoryRecorder) ObserveWebhookDuration(eventType string, duration time.Duration) {
	m.mu.Lock()
	m.webhookDurations++
	m.mu.Unlock()
}

// IncGateDecision counts a gate decision by action.
func (m *InMemoryRecorder) IncGateDecision(action, decision string) {
	m.mu.Lock()
	m.gateDecisions[action+"/"+decision]++
	m.mu.Unlock()
}

// IncChangePublished counts change stream publishes.
func (m *InMemoryRecorder) IncChangePublished(status string) {
	m.mu.Lock()
	m.changesPublished[status]++
	m.mu.Unlock()
}
