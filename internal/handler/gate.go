package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lampstand/entitlements/internal/handler/dto"
	"github.com/lampstand/entitlements/internal/middleware"
	"github.com/lampstand/entitlements/internal/model"
	"github.com/lampstand/entitlements/internal/service"
)

// CreditGate decides metered actions.
type CreditGate interface {
	Consume(ctx context.Context, userID string, action model.ActionType) (*service.Decision, error)
}

// GateHandler serves the credit consumption gate.
type GateHandler struct {
	gate    CreditGate
	limiter *middleware.UserRateLimit
	logger  *slog.Logger
}

// NewGateHandler creates a new GateHandler. limiter may be nil.
func NewGateHandler(gate CreditGate, limiter *middleware.UserRateLimit, logger *slog.Logger) *GateHandler {
	return &GateHandler{
		gate:    gate,
		limiter: limiter,
		logger:  logger,
	}
}

// Gate checks and consumes a credit for one metered action.
// POST /api/v1/gate
func (h *GateHandler) Gate(w http.ResponseWriter, r *http.Request) {
	var req dto.GateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}

	if !h.limiter.Allow(w, r, req.UserID) {
		return
	}

	decision, err := h.gate.Consume(r.Context(), req.UserID, model.ActionType(req.ActionType))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUserID):
			writeError(w, http.StatusBadRequest, "INVALID_USER_ID", "user_id is required")
		case errors.Is(err, service.ErrInvalidActionType):
			writeError(w, http.StatusBadRequest, "INVALID_ACTION_TYPE", "Unknown action_type")
		default:
			h.logger.Error("gate failed",
				"request_id", middleware.GetRequestID(r.Context()),
				"user_id", req.UserID,
				"action_type", req.ActionType,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.GateResponse{
		OK:        decision.OK,
		Reason:    decision.Reason,
		Remaining: decision.Remaining,
		IsPaid:    decision.IsPaid,
	})
}
