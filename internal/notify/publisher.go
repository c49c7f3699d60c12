// Package notify publishes entitlement changes to a Redis stream so other
// services can react to upgrades and downgrades.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lampstand/entitlements/internal/metrics"
	"github.com/lampstand/entitlements/internal/model"
)

const (
	// StreamKey is the Redis stream for entitlement changes.
	StreamKey = "stream:entitlement_changes"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 10000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 200 * time.Millisecond
)

// Publisher enqueues entitlement changes to a Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder

	// mu orders pending.Add against Drain's Wait.
	mu       sync.Mutex
	draining bool
	pending  sync.WaitGroup
}

// NewPublisher creates a new change publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "notify.publisher"),
		metrics: recorder,
	}
}

// Publish adds a change to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, change model.EntitlementChange) (string, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return "", fmt.Errorf("marshal change: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"user_id": change.UserID,
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// PublishAsync publishes without blocking the caller. Failures are logged
// and counted only. Changes arriving after Drain has started are dropped.
func (p *Publisher) PublishAsync(change model.EntitlementChange) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		p.logger.Warn("publisher draining, entitlement change dropped",
			"user_id", change.UserID,
		)
		p.metrics.IncChangePublished("dropped")
		return
	}
	p.pending.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, change)
		if err != nil {
			p.logger.Warn("failed to publish entitlement change",
				"user_id", change.UserID,
				"error", err,
			)
			p.metrics.IncChangePublished("dropped")
			return
		}

		p.logger.Debug("entitlement change published",
			"user_id", change.UserID,
			"stream_id", streamID,
		)
		p.metrics.IncChangePublished("success")
	}()
}

// Drain stops accepting async publishes and waits for in-flight ones, or for
// ctx to expire.
func (p *Publisher) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent returns up to count changes, newest first.
func (p *Publisher) Recent(ctx context.Context, count int64) ([]model.EntitlementChange, error) {
	msgs, err := p.redis.XRevRangeN(ctx, StreamKey, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange: %w", err)
	}

	changes := make([]model.EntitlementChange, 0, len(msgs))
	for _, msg := range msgs {
		change, err := decodeMessage(msg)
		if err != nil {
			p.logger.Warn("skipping malformed change", "stream_id", msg.ID, "error", err)
			continue
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func decodeMessage(msg redis.XMessage) (model.EntitlementChange, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return model.EntitlementChange{}, fmt.Errorf("missing payload field")
	}
	var change model.EntitlementChange
	if err := json.Unmarshal([]byte(raw), &change); err != nil {
		return model.EntitlementChange{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return change, nil
}
