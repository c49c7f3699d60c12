// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/lampstand/entitlements/internal/model"
)

// GateRequest is the body of POST /api/v1/gate.
type GateRequest struct {
	UserID     string `json:"user_id"`
	ActionType string `json:"action_type"`
}

// GateResponse is the gate's answer for one metered action.
// Remaining is omitted for paid users.
type GateResponse struct {
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
	IsPaid    bool   `json:"is_paid"`
}

// EntitlementResponse represents an entitlement record in API responses.
type EntitlementResponse struct {
	UserID             string    `json:"user_id"`
	IsPaid             bool      `json:"is_paid"`
	PaymentActive      bool      `json:"payment_active"`
	DailyCredits       int       `json:"daily_credits"`
	CreditsResetOn     string    `json:"credits_reset_on"`
	IgnoreCreditPhase1 bool      `json:"ignore_credit_phase1"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UsageResponse lists recent credit usage, newest first.
type UsageResponse struct {
	Data []UsageEntry `json:"data"`
}

// UsageEntry is one allowed metered action.
type UsageEntry struct {
	ID         string    `json:"id"`
	ActionType string    `json:"action_type"`
	Paid       bool      `json:"paid"`
	Remaining  *int      `json:"remaining,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// WebhookAck acknowledges a Stripe delivery.
type WebhookAck struct {
	Received bool `json:"received"`
}

// ErrorResponse is the error envelope shared by all endpoints.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code and a message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EntitlementFromModel converts a record to its response shape.
func EntitlementFromModel(e *model.Entitlement) EntitlementResponse {
	return EntitlementResponse{
		UserID:             e.UserID,
		IsPaid:             e.IsPaid,
		PaymentActive:      e.PaymentActive,
		DailyCredits:       e.DailyCredits,
		CreditsResetOn:     e.CreditsResetOn.Format(time.DateOnly),
		IgnoreCreditPhase1: e.IgnoreCreditPhase1,
		UpdatedAt:          e.UpdatedAt,
	}
}

// UsageFromModel converts usage rows to their response shape.
func UsageFromModel(rows []*model.CreditUsage) UsageResponse {
	out := UsageResponse{Data: make([]UsageEntry, 0, len(rows))}
	for _, u := range rows {
		out.Data = append(out.Data, UsageEntry{
			ID:         u.ID,
			ActionType: string(u.ActionType),
			Paid:       u.Paid,
			Remaining:  u.Remaining,
			CreatedAt:  u.CreatedAt,
		})
	}
	return out
}
