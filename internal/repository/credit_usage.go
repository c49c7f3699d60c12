package repository

import (
	"context"
	"fmt"

	"github.com/lampstand/entitlements/internal/model"
)

// InsertCreditUsage appends an audit row for an allowed metered action.
func (r *Repository) InsertCreditUsage(ctx context.Context, usage *model.CreditUsage) error {
	query := `
		INSERT INTO credit_usage (id, user_id, action_type, paid, remaining, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query,
		usage.ID,
		usage.UserID,
		string(usage.ActionType),
		usage.Paid,
		usage.Remaining,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credit usage: %w", err)
	}
	return nil
}

// ListCreditUsage returns the most recent usage rows for a user, newest first.
func (r *Repository) ListCreditUsage(ctx context.Context, userID string, limit int) ([]*model.CreditUsage, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, user_id, action_type, paid, remaining, created_at
		FROM credit_usage
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit usage: %w", err)
	}
	defer rows.Close()

	var usages []*model.CreditUsage
	for rows.Next() {
		var (
			u          model.CreditUsage
			actionType string
		)
		if err := rows.Scan(&u.ID, &u.UserID, &actionType, &u.Paid, &u.Remaining, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit usage: %w", err)
		}
		u.ActionType = model.ActionType(actionType)
		usages = append(usages, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credit usage: %w", err)
	}

	return usages, nil
}
