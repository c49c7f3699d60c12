package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/lampstand/entitlements/internal/metrics"
	"github.com/lampstand/entitlements/internal/model"
)

// ErrUnresolvedUser is returned for events whose rule fails on an
// unresolvable subject instead of dropping them.
var ErrUnresolvedUser = errors.New("subject user could not be resolved")

// Outcome classifies what processing did with an event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
	OutcomeDropped Outcome = "dropped"
)

// Result describes a processed event.
type Result struct {
	Outcome Outcome
	UserID  string
	Target  model.Target
	Reason  string
}

// Writer applies an entitlement target for a user.
type Writer interface {
	Apply(ctx context.Context, userID string, target model.Target, src model.ChangeSource) (*model.Entitlement, error)
}

// Processor classifies verified events and hands targets to a Writer.
type Processor struct {
	policy  map[model.BillingEventType]Rule
	lookup  SubscriptionLookup
	writer  Writer
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewProcessor creates a Processor using the default policy table.
func NewProcessor(lookup SubscriptionLookup, writer Writer, logger *slog.Logger, recorder metrics.Recorder) *Processor {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Processor{
		policy:  DefaultPolicy(),
		lookup:  lookup,
		writer:  writer,
		logger:  logger.With("component", "billing.processor"),
		metrics: recorder,
	}
}

// Process applies the policy for event. The returned error is non-nil only
// when a write failed or a Fail rule could not resolve its user; both
// should be retried by the sender.
func (p *Processor) Process(ctx context.Context, event stripe.Event) (Result, error) {
	start := time.Now()
	eventType := string(event.Type)

	res, err := p.process(ctx, event)

	outcome := string(res.Outcome)
	if err != nil {
		outcome = "failed"
	}
	p.metrics.IncWebhookEvent(eventType, outcome)
	p.metrics.ObserveWebhookDuration(eventType, time.Since(start))
	return res, err
}

func (p *Processor) process(ctx context.Context, event stripe.Event) (Result, error) {
	log := p.logger.With("event_id", event.ID, "event_type", string(event.Type))

	rule, ok := p.policy[model.BillingEventType(event.Type)]
	if !ok {
		log.Debug("ignoring unhandled event type")
		return Result{Outcome: OutcomeIgnored, Reason: "unhandled_type"}, nil
	}
	if event.Data == nil {
		log.Warn("dropping event without data object")
		return Result{Outcome: OutcomeDropped, Reason: "no_data"}, nil
	}

	subj, err := rule.decode(event.Data.Raw)
	if err != nil {
		log.Error("dropping undecodable event", "error", err)
		return Result{Outcome: OutcomeDropped, Reason: "undecodable"}, nil
	}

	target, ok := rule.target(subj)
	if !ok {
		log.Info("event leaves entitlements unchanged",
			"mode", subj.Mode,
			"status", string(subj.Status),
		)
		return Result{Outcome: OutcomeIgnored, Reason: "no_change"}, nil
	}

	userID, reason := p.resolve(ctx, log, rule.Resolution, subj)
	if userID == "" {
		if rule.OnUnresolved == Fail {
			return Result{Outcome: OutcomeDropped, Reason: reason},
				fmt.Errorf("%w: %s", ErrUnresolvedUser, reason)
		}
		log.Warn("dropping event without resolvable user",
			"reason", reason,
			"resolution", rule.Resolution.String(),
			"subscription_id", subj.SubscriptionID,
		)
		return Result{Outcome: OutcomeDropped, Reason: reason}, nil
	}

	src := model.ChangeSource{EventID: event.ID, EventType: string(event.Type)}
	if _, err := p.writer.Apply(ctx, userID, target, src); err != nil {
		log.Error("failed to apply entitlement", "user_id", userID, "error", err)
		return Result{Outcome: OutcomeDropped, UserID: userID, Target: target}, fmt.Errorf("apply entitlement: %w", err)
	}

	log.Info("entitlement applied",
		"user_id", userID,
		"is_paid", target.IsPaid,
		"payment_active", target.PaymentActive,
	)
	return Result{Outcome: OutcomeApplied, UserID: userID, Target: target}, nil
}

// resolve returns the subject user id, or "" and a reason.
func (p *Processor) resolve(ctx context.Context, log *slog.Logger, res Resolution, subj subject) (string, string) {
	if res != ResolveSubscription && subj.UserID != "" {
		return subj.UserID, ""
	}
	if res == ResolveMetadata {
		return "", "missing_metadata"
	}
	if subj.SubscriptionID == "" {
		return "", "missing_subscription"
	}

	sub, err := p.lookup.Subscription(ctx, subj.SubscriptionID)
	if err != nil {
		log.Warn("subscription lookup failed",
			"subscription_id", subj.SubscriptionID,
			"error", err,
		)
		return "", "lookup_failed"
	}
	if userID := userIDFromMetadata(sub.Metadata); userID != "" {
		return userID, ""
	}
	return "", "missing_metadata"
}
