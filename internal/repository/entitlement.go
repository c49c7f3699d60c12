package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lampstand/entitlements/internal/model"
)

// ErrEntitlementNotFound is returned when no record exists for a user.
var ErrEntitlementNotFound = errors.New("entitlement not found")

const entitlementColumns = `user_id, is_paid, payment_active, daily_credits, credits_reset_on,
		ignore_credit_phase1, COALESCE(subscription_id, ''), created_at, updated_at`

// EnsureEntitlement creates the default record for a user if none exists.
func (r *Repository) EnsureEntitlement(ctx context.Context, userID string, today time.Time, allowance int) error {
	query := `
		INSERT INTO entitlements (user_id, daily_credits, credits_reset_on)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, userID, allowance, today); err != nil {
		return fmt.Errorf("failed to ensure entitlement: %w", err)
	}
	return nil
}

// GetEntitlement retrieves the record for a user.
func (r *Repository) GetEntitlement(ctx context.Context, userID string) (*model.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE user_id = $1`

	e, err := scanEntitlement(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntitlementNotFound
		}
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return e, nil
}

// ConsumeCredit atomically takes one credit from a free user.
// A balance from an earlier day is replenished to allowance before the
// decrement. It returns ok=false without error when the user is paid or has
// no credits left today; the caller tells the two apart by reading the record.
func (r *Repository) ConsumeCredit(ctx context.Context, userID string, today time.Time, allowance int) (remaining int, ok bool, err error) {
	query := `
		UPDATE entitlements
		SET daily_credits = CASE WHEN credits_reset_on < $2 THEN $3 - 1 ELSE daily_credits - 1 END,
		    credits_reset_on = $2,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND is_paid = FALSE
		  AND (credits_reset_on < $2 OR daily_credits > 0)
		RETURNING daily_credits
	`

	err = r.db.QueryRow(ctx, query, userID, today, allowance).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to consume credit: %w", err)
	}
	return remaining, true, nil
}

// ApplyTarget upserts the paid flags for a user to the given values.
// The write never depends on the prior value, so repeating it is harmless.
func (r *Repository) ApplyTarget(ctx context.Context, userID string, target model.Target, today time.Time, allowance int) (*model.Entitlement, error) {
	query := `
		INSERT INTO entitlements (user_id, is_paid, payment_active, subscription_id, daily_credits, credits_reset_on)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			is_paid = EXCLUDED.is_paid,
			payment_active = EXCLUDED.payment_active,
			subscription_id = COALESCE(EXCLUDED.subscription_id, entitlements.subscription_id),
			updated_at = NOW()
		RETURNING ` + entitlementColumns

	e, err := scanEntitlement(r.db.QueryRow(ctx, query,
		userID,
		target.IsPaid,
		target.PaymentActive,
		target.SubscriptionID,
		allowance,
		today,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to apply entitlement target: %w", err)
	}
	return e, nil
}

// AcknowledgeOnboarding sets ignore_credit_phase1, creating the record if needed.
func (r *Repository) AcknowledgeOnboarding(ctx context.Context, userID string, today time.Time, allowance int) error {
	query := `
		INSERT INTO entitlements (user_id, daily_credits, credits_reset_on, ignore_credit_phase1)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (user_id) DO UPDATE SET
			ignore_credit_phase1 = TRUE,
			updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, userID, allowance, today); err != nil {
		return fmt.Errorf("failed to acknowledge onboarding: %w", err)
	}
	return nil
}

// ResetDailyCredits replenishes every free balance recorded before today.
func (r *Repository) ResetDailyCredits(ctx context.Context, today time.Time, allowance int) (int64, error) {
	query := `
		UPDATE entitlements
		SET daily_credits = $2, credits_reset_on = $1, updated_at = NOW()
		WHERE credits_reset_on < $1 AND is_paid = FALSE
	`

	tag, err := r.db.Exec(ctx, query, today, allowance)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily credits: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntitlement(row pgx.Row) (*model.Entitlement, error) {
	var e model.Entitlement
	err := row.Scan(
		&e.UserID,
		&e.IsPaid,
		&e.PaymentActive,
		&e.DailyCredits,
		&e.CreditsResetOn,
		&e.IgnoreCreditPhase1,
		&e.SubscriptionID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
