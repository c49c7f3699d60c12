// Package model defines domain entities for the application.
package model

import (
	"slices"
	"time"
)

// DefaultDailyCredits is the allowance a free user starts each day with.
const DefaultDailyCredits = 5

// ActionType tags a metered feature invocation.
type ActionType string

const (
	ActionDeepStudyViewed    ActionType = "deep_study_viewed"
	ActionNotesViewed        ActionType = "notes_viewed"
	ActionNotesGenerated     ActionType = "notes_generated"
	ActionReadingPlanStarted ActionType = "reading_plan_started"
	ActionTriviaPlayed       ActionType = "trivia_played"
)

// ValidActionTypes contains all metered action types.
var ValidActionTypes = []ActionType{
	ActionDeepStudyViewed,
	ActionNotesViewed,
	ActionNotesGenerated,
	ActionReadingPlanStarted,
	ActionTriviaPlayed,
}

// IsValidActionType checks if an action type is known.
func IsValidActionType(at ActionType) bool {
	return slices.Contains(ValidActionTypes, at)
}

// Entitlement is the persisted per-user entitlement record.
type Entitlement struct {
	UserID             string    `json:"user_id"`
	IsPaid             bool      `json:"is_paid"`
	PaymentActive      bool      `json:"payment_active"`
	DailyCredits       int       `json:"daily_credits"`
	CreditsResetOn     time.Time `json:"credits_reset_on"`
	IgnoreCreditPhase1 bool      `json:"ignore_credit_phase1"`
	SubscriptionID     string    `json:"subscription_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewEntitlement returns a record with the defaults applied on first use.
func NewEntitlement(userID string, now time.Time) *Entitlement {
	now = now.UTC()
	return &Entitlement{
		UserID:         userID,
		DailyCredits:   DefaultDailyCredits,
		CreditsResetOn: Day(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// EffectiveCredits returns the balance as of today.
// A balance recorded for an earlier day has been replenished.
func (e *Entitlement) EffectiveCredits(today time.Time, allowance int) int {
	if e.CreditsResetOn.Before(Day(today)) {
		return allowance
	}
	return e.DailyCredits
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Target is the entitlement state a billing event maps to.
type Target struct {
	IsPaid         bool
	PaymentActive  bool
	SubscriptionID string
}

// CreditUsage is an audit row for an allowed metered action.
type CreditUsage struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ActionType ActionType `json:"action_type"`
	Paid       bool       `json:"paid"`
	Remaining  *int       `json:"remaining,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
