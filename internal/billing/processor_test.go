package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/lampstand/entitlements/internal/metrics"
	"github.com/lampstand/entitlements/internal/model"
)

type fakeWriter struct {
	mu      sync.Mutex
	records map[string]model.Target
	calls   int
	err     error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{records: make(map[string]model.Target)}
}

func (w *fakeWriter) Apply(_ context.Context, userID string, target model.Target, _ model.ChangeSource) (*model.Entitlement, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	w.records[userID] = target
	return &model.Entitlement{UserID: userID, IsPaid: target.IsPaid, PaymentActive: target.PaymentActive}, nil
}

type fakeLookup struct {
	subs  map[string]*Subscription
	err   error
	calls int
}

func (l *fakeLookup) Subscription(_ context.Context, id string) (*Subscription, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	sub, ok := l.subs[id]
	if !ok {
		return nil, ErrSubscriptionLookup
	}
	return sub, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(lookup SubscriptionLookup, writer Writer) (*Processor, *metrics.InMemoryRecorder) {
	rec := metrics.NewInMemory()
	return NewProcessor(lookup, writer, discardLogger(), rec), rec
}

func testEvent(eventType string, object string) stripe.Event {
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(object)},
	}
}

func TestProcess_SubscriptionUpdatedPastDue(t *testing.T) {
	writer := newFakeWriter()
	writer.records["u1"] = model.Target{IsPaid: true, PaymentActive: true}
	p, _ := newTestProcessor(&fakeLookup{}, writer)

	res, err := p.Process(context.Background(), testEvent("customer.subscription.updated",
		`{"id":"sub_9","status":"past_due","metadata":{"user_id":"u1"}}`))
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.False(t, writer.records["u1"].IsPaid)
	assert.False(t, writer.records["u1"].PaymentActive)
}

func TestProcess_InvoiceSucceededResolvesViaSubscription(t *testing.T) {
	writer := newFakeWriter()
	lookup := &fakeLookup{subs: map[string]*Subscription{
		"sub_1": {ID: "sub_1", Status: model.StatusActive, Metadata: map[string]string{"user_id": "u2"}},
	}}
	p, _ := newTestProcessor(lookup, writer)

	res, err := p.Process(context.Background(), testEvent("invoice.payment_succeeded",
		`{"id":"in_1","subscription":"sub_1"}`))
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "u2", res.UserID)
	assert.True(t, writer.records["u2"].IsPaid)
	assert.Equal(t, "sub_1", writer.records["u2"].SubscriptionID)
	assert.Equal(t, 1, lookup.calls)
}

func TestProcess_InvoiceSubscriptionFromParent(t *testing.T) {
	writer := newFakeWriter()
	lookup := &fakeLookup{subs: map[string]*Subscription{
		"sub_2": {ID: "sub_2", Metadata: map[string]string{"userId": "u5"}},
	}}
	p, _ := newTestProcessor(lookup, writer)

	res, err := p.Process(context.Background(), testEvent("invoice.payment_failed",
		`{"id":"in_2","parent":{"subscription_details":{"subscription":"sub_2"}}}`))
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.False(t, writer.records["u5"].IsPaid)
}

func TestProcess_PolicyTable(t *testing.T) {
	lookup := &fakeLookup{subs: map[string]*Subscription{
		"sub_meta": {ID: "sub_meta", Metadata: map[string]string{"user_id": "from_sub"}},
		"sub_bare": {ID: "sub_bare"},
	}}

	tests := []struct {
		name        string
		eventType   string
		object      string
		wantOutcome Outcome
		wantUser    string
		wantPaid    bool
	}{
		{
			name:        "checkout subscription mode",
			eventType:   "checkout.session.completed",
			object:      `{"id":"cs_1","mode":"subscription","metadata":{"user_id":"u1"}}`,
			wantOutcome: OutcomeApplied,
			wantUser:    "u1",
			wantPaid:    true,
		},
		{
			name:        "checkout payment mode",
			eventType:   "checkout.session.completed",
			object:      `{"id":"cs_2","mode":"payment","metadata":{"user_id":"u1"}}`,
			wantOutcome: OutcomeIgnored,
		},
		{
			name:        "checkout falls back to subscription metadata",
			eventType:   "checkout.session.completed",
			object:      `{"id":"cs_3","mode":"subscription","subscription":"sub_meta"}`,
			wantOutcome: OutcomeApplied,
			wantUser:    "from_sub",
			wantPaid:    true,
		},
		{
			name:        "checkout with expanded subscription object",
			eventType:   "checkout.session.completed",
			object:      `{"id":"cs_4","mode":"subscription","subscription":{"id":"sub_meta","object":"subscription"}}`,
			wantOutcome: OutcomeApplied,
			wantUser:    "from_sub",
			wantPaid:    true,
		},
		{
			name:        "checkout without any metadata",
			eventType:   "checkout.session.completed",
			object:      `{"id":"cs_5","mode":"subscription","subscription":"sub_bare"}`,
			wantOutcome: OutcomeDropped,
		},
		{
			name:        "subscription created trialing",
			eventType:   "customer.subscription.created",
			object:      `{"id":"sub_a","status":"trialing","metadata":{"user_id":"u3"}}`,
			wantOutcome: OutcomeApplied,
			wantUser:    "u3",
			wantPaid:    true,
		},
		{
			name:        "subscription updated canceled",
			eventType:   "customer.subscription.updated",
			object:      `{"id":"sub_a","status":"canceled","metadata":{"user_id":"u3"}}`,
			wantOutcome: OutcomeApplied,
			wantUser:    "u3",
		},
		{
			name:        "subscription updated incomplete",
			eventType:   "customer.subscription.updated",
			object:      `{"id":"sub_a","status":"incomplete","metadata":{"user_id":"u3"}}`,
			wantOutcome: OutcomeIgnored,
		},
		{
			name:        "subscription updated unknown status",
			eventType:   "customer.subscription.updated",
			object:      `{"id":"sub_a","status":"something_new","metadata":{"user_id":"u3"}}`,
			wantOutcome: OutcomeIgnored,
		},
		{
			name:        "subscription deleted",
			eventType:   "customer.subscription.deleted",
			object:      `{"id":"sub_a","status":"active","metadata":{"user_id":"u4"}}`,
			wantOutcome: OutcomeApplied,
			wantUser:    "u4",
		},
		{
			name:        "subscription deleted without metadata",
			eventType:   "customer.subscription.deleted",
			object:      `{"id":"sub_a","status":"canceled"}`,
			wantOutcome: OutcomeDropped,
		},
		{
			name:        "invoice without subscription",
			eventType:   "invoice.payment_succeeded",
			object:      `{"id":"in_9"}`,
			wantOutcome: OutcomeDropped,
		},
		{
			name:        "invoice subscription not found",
			eventType:   "invoice.payment_succeeded",
			object:      `{"id":"in_9","subscription":"sub_missing"}`,
			wantOutcome: OutcomeDropped,
		},
		{
			name:        "unhandled type",
			eventType:   "customer.created",
			object:      `{"id":"cus_1","metadata":{"user_id":"u1"}}`,
			wantOutcome: OutcomeIgnored,
		},
		{
			name:        "undecodable object",
			eventType:   "customer.subscription.updated",
			object:      `{"id":42}`,
			wantOutcome: OutcomeDropped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := newFakeWriter()
			p, _ := newTestProcessor(lookup, writer)

			res, err := p.Process(context.Background(), testEvent(tt.eventType, tt.object))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, res.Outcome)

			if tt.wantOutcome != OutcomeApplied {
				assert.Zero(t, writer.calls, "non-applied events must not write")
				return
			}
			target, ok := writer.records[tt.wantUser]
			require.True(t, ok, "expected write for %s", tt.wantUser)
			assert.Equal(t, tt.wantPaid, target.IsPaid)
			assert.Equal(t, tt.wantPaid, target.PaymentActive)
		})
	}
}

func TestProcess_LookupFailureDrops(t *testing.T) {
	writer := newFakeWriter()
	p, rec := newTestProcessor(&fakeLookup{err: errors.New("stripe unavailable")}, writer)

	res, err := p.Process(context.Background(), testEvent("invoice.payment_failed",
		`{"id":"in_1","subscription":"sub_1"}`))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDropped, res.Outcome)
	assert.Equal(t, "lookup_failed", res.Reason)
	assert.Zero(t, writer.calls)
	assert.Equal(t, uint64(1), rec.Snapshot().WebhookEvents["invoice.payment_failed/dropped"])
}

func TestProcess_WriterFailureSurfaces(t *testing.T) {
	writer := newFakeWriter()
	writer.err = errors.New("connection refused")
	p, rec := newTestProcessor(&fakeLookup{}, writer)

	_, err := p.Process(context.Background(), testEvent("customer.subscription.deleted",
		`{"id":"sub_1","metadata":{"user_id":"u1"}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, writer.err)
	assert.Equal(t, uint64(1), rec.Snapshot().WebhookEvents["customer.subscription.deleted/failed"])
}

func TestProcess_Idempotent(t *testing.T) {
	writer := newFakeWriter()
	p, _ := newTestProcessor(&fakeLookup{}, writer)
	event := testEvent("checkout.session.completed",
		`{"id":"cs_1","mode":"subscription","subscription":"sub_1","metadata":{"user_id":"u1"}}`)

	_, err := p.Process(context.Background(), event)
	require.NoError(t, err)
	once := writer.records["u1"]

	_, err = p.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, once, writer.records["u1"])
}

func TestProcess_FailPolicySurfacesUnresolved(t *testing.T) {
	writer := newFakeWriter()
	p, _ := newTestProcessor(&fakeLookup{}, writer)
	rule := p.policy[model.EventSubscriptionDeleted]
	rule.OnUnresolved = Fail
	p.policy[model.EventSubscriptionDeleted] = rule

	_, err := p.Process(context.Background(), testEvent("customer.subscription.deleted", `{"id":"sub_1"}`))
	assert.ErrorIs(t, err, ErrUnresolvedUser)
	assert.Zero(t, writer.calls)
}

func TestPaidForStatus(t *testing.T) {
	tests := []struct {
		status    model.SubscriptionStatus
		wantPaid  bool
		wantKnown bool
	}{
		{model.StatusActive, true, true},
		{model.StatusTrialing, true, true},
		{model.StatusPastDue, false, true},
		{model.StatusCanceled, false, true},
		{model.StatusUnpaid, false, true},
		{model.StatusIncompleteExpired, false, true},
		{model.StatusPaused, false, true},
		{model.StatusIncomplete, false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			paid, known := PaidForStatus(tt.status)
			assert.Equal(t, tt.wantPaid, paid)
			assert.Equal(t, tt.wantKnown, known)
		})
	}
}

func TestObjectRef_Unmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  objectRef
	}{
		{"string id", `"sub_1"`, "sub_1"},
		{"expanded object", `{"id":"sub_2","object":"subscription"}`, "sub_2"},
		{"null", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ref objectRef
			require.NoError(t, json.Unmarshal([]byte(tt.input), &ref))
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestUserIDFromMetadata(t *testing.T) {
	assert.Equal(t, "a", userIDFromMetadata(map[string]string{"user_id": "a", "userId": "b"}))
	assert.Equal(t, "b", userIDFromMetadata(map[string]string{"user_id": "  ", "userId": "b"}))
	assert.Empty(t, userIDFromMetadata(nil))
}
