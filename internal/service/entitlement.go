// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lampstand/entitlements/internal/metrics"
	"github.com/lampstand/entitlements/internal/model"
)

// Service errors.
var (
	ErrInvalidUserID     = errors.New("invalid user id")
	ErrInvalidActionType = errors.New("invalid action type")
)

// ReasonCreditsExhausted is the deny reason when a free user has no credits
// left today.
const ReasonCreditsExhausted = "credits_exhausted"

const maxUserIDLength = 255

// Store is the persistence the entitlement service needs.
// *repository.Repository implements it.
type Store interface {
	EnsureEntitlement(ctx context.Context, userID string, today time.Time, allowance int) error
	GetEntitlement(ctx context.Context, userID string) (*model.Entitlement, error)
	ConsumeCredit(ctx context.Context, userID string, today time.Time, allowance int) (int, bool, error)
	ApplyTarget(ctx context.Context, userID string, target model.Target, today time.Time, allowance int) (*model.Entitlement, error)
	AcknowledgeOnboarding(ctx context.Context, userID string, today time.Time, allowance int) error
	ResetDailyCredits(ctx context.Context, today time.Time, allowance int) (int64, error)
	InsertCreditUsage(ctx context.Context, usage *model.CreditUsage) error
	ListCreditUsage(ctx context.Context, userID string, limit int) ([]*model.CreditUsage, error)
}

// EntitlementCache caches records between reads. *cache.Cache implements it.
// DeleteEntitlement advances the user's version; SetEntitlement is a no-op
// when the version has moved since the reader fetched it.
type EntitlementCache interface {
	GetEntitlement(ctx context.Context, userID string) (*model.Entitlement, error)
	EntitlementVersion(ctx context.Context, userID string) (int64, error)
	SetEntitlement(ctx context.Context, e *model.Entitlement, version int64) (bool, error)
	DeleteEntitlement(ctx context.Context, userID string) error
}

// ChangePublisher announces applied entitlement targets.
type ChangePublisher interface {
	PublishAsync(change model.EntitlementChange)
}

// Decision is the gate's answer for one metered action.
type Decision struct {
	OK        bool
	Reason    string
	Remaining *int
	IsPaid    bool
}

// EntitlementService implements the credit gate and the entitlement writer.
type EntitlementService struct {
	store     Store
	cache     EntitlementCache
	publisher ChangePublisher
	allowance int
	logger    *slog.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
// cache and publisher may be nil.
func NewEntitlementService(store Store, cache EntitlementCache, publisher ChangePublisher, allowance int, logger *slog.Logger, recorder metrics.Recorder) *EntitlementService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if allowance < 1 {
		allowance = model.DefaultDailyCredits
	}
	return &EntitlementService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		allowance: allowance,
		logger:    logger.With("component", "service.entitlement"),
		metrics:   recorder,
		now:       time.Now,
	}
}

// Allowance returns the daily credit allowance for free users.
func (s *EntitlementService) Allowance() int {
	return s.allowance
}

// Consume checks whether userID may perform action and takes a credit from
// free users. The decrement happens in one conditional write, so concurrent
// calls never hand out more credits than the balance holds.
func (s *EntitlementService) Consume(ctx context.Context, userID string, action model.ActionType) (*Decision, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if !model.IsValidActionType(action) {
		return nil, ErrInvalidActionType
	}

	today := model.Day(s.now())
	if err := s.store.EnsureEntitlement(ctx, userID, today, s.allowance); err != nil {
		return nil, err
	}

	remaining, consumed, err := s.store.ConsumeCredit(ctx, userID, today, s.allowance)
	if err != nil {
		return nil, err
	}

	var decision *Decision
	if consumed {
		decision = &Decision{OK: true, Remaining: &remaining}
		s.metrics.IncGateDecision(string(action), metrics.GateAllowedCredit)
		s.invalidate(ctx, userID)
	} else {
		e, err := s.store.GetEntitlement(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read entitlement after gate miss: %w", err)
		}
		if e.IsPaid {
			decision = &Decision{OK: true, IsPaid: true}
			s.metrics.IncGateDecision(string(action), metrics.GateAllowedPaid)
		} else {
			zero := 0
			decision = &Decision{OK: false, Reason: ReasonCreditsExhausted, Remaining: &zero}
			s.metrics.IncGateDecision(string(action), metrics.GateDenied)
		}
	}

	if decision.OK {
		s.recordUsage(ctx, userID, action, decision)
	}
	return decision, nil
}

func (s *EntitlementService) recordUsage(ctx context.Context, userID string, action model.ActionType, d *Decision) {
	usage := &model.CreditUsage{
		ID:         ulid.Make().String(),
		UserID:     userID,
		ActionType: action,
		Paid:       d.IsPaid,
		Remaining:  d.Remaining,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertCreditUsage(ctx, usage); err != nil {
		s.logger.Warn("failed to record credit usage",
			"user_id", userID,
			"action_type", string(action),
			"error", err,
		)
	}
}

// Apply sets the paid flags for userID to target. It never reads or
// toggles the prior value, so replaying the same target is harmless.
func (s *EntitlementService) Apply(ctx context.Context, userID string, target model.Target, src model.ChangeSource) (*model.Entitlement, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	now := s.now()
	e, err := s.store.ApplyTarget(ctx, userID, target, model.Day(now), s.allowance)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	if s.publisher != nil {
		s.publisher.PublishAsync(model.EntitlementChange{
			UserID:        userID,
			IsPaid:        e.IsPaid,
			PaymentActive: e.PaymentActive,
			EventID:       src.EventID,
			EventType:     src.EventType,
			ChangedAt:     now.UnixMilli(),
		})
	}
	return e, nil
}

// Get returns the record for userID, creating it with defaults when absent.
// The balance reflects today's replenishment even if no gated action has
// run yet today.
func (s *EntitlementService) Get(ctx context.Context, userID string) (*model.Entitlement, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	today := model.Day(s.now())

	// The version is taken before the database read so a write that lands
	// in between keeps this (possibly stale) record out of the cache.
	cacheable := false
	var version int64
	if s.cache != nil {
		cached, err := s.cache.GetEntitlement(ctx, userID)
		if err != nil {
			s.logger.Warn("entitlement cache read failed", "user_id", userID, "error", err)
		} else if cached != nil {
			return s.effective(cached, today), nil
		}

		version, err = s.cache.EntitlementVersion(ctx, userID)
		if err != nil {
			s.logger.Warn("entitlement cache version read failed", "user_id", userID, "error", err)
		} else {
			cacheable = true
		}
	}

	if err := s.store.EnsureEntitlement(ctx, userID, today, s.allowance); err != nil {
		return nil, err
	}
	e, err := s.store.GetEntitlement(ctx, userID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		stored, err := s.cache.SetEntitlement(ctx, e, version)
		switch {
		case err != nil:
			s.logger.Warn("entitlement cache write failed", "user_id", userID, "error", err)
		case !stored:
			s.logger.Debug("entitlement changed during read, not cached", "user_id", userID)
		}
	}
	return s.effective(e, today), nil
}

// effective returns a copy of e with the lazy daily reset applied.
func (s *EntitlementService) effective(e *model.Entitlement, today time.Time) *model.Entitlement {
	out := *e
	if out.CreditsResetOn.Before(today) {
		out.DailyCredits = out.EffectiveCredits(today, s.allowance)
		out.CreditsResetOn = today
	}
	return &out
}

// AcknowledgeOnboarding records that the one-time credit message was shown.
func (s *EntitlementService) AcknowledgeOnboarding(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := s.store.AcknowledgeOnboarding(ctx, userID, model.Day(s.now()), s.allowance); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Usage returns recent credit usage for userID, newest first.
func (s *EntitlementService) Usage(ctx context.Context, userID string, limit int) ([]*model.CreditUsage, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	return s.store.ListCreditUsage(ctx, userID, limit)
}

// ResetDailyCredits replenishes every stale free balance in one pass.
func (s *EntitlementService) ResetDailyCredits(ctx context.Context) (int64, error) {
	return s.store.ResetDailyCredits(ctx, model.Day(s.now()), s.allowance)
}

func (s *EntitlementService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteEntitlement(ctx, userID); err != nil {
		s.logger.Warn("entitlement cache invalidation failed", "user_id", userID, "error", err)
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" || len(userID) > maxUserIDLength {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(userID) != userID {
		return ErrInvalidUserID
	}
	return nil
}
