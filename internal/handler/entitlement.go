package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lampstand/entitlements/internal/handler/dto"
	"github.com/lampstand/entitlements/internal/middleware"
	"github.com/lampstand/entitlements/internal/model"
	"github.com/lampstand/entitlements/internal/service"
)

// EntitlementReader reads and acknowledges entitlement state.
type EntitlementReader interface {
	Get(ctx context.Context, userID string) (*model.Entitlement, error)
	AcknowledgeOnboarding(ctx context.Context, userID string) error
	Usage(ctx context.Context, userID string, limit int) ([]*model.CreditUsage, error)
}

// EntitlementHandler serves per-user entitlement endpoints.
type EntitlementHandler struct {
	svc    EntitlementReader
	logger *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(svc EntitlementReader, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		svc:    svc,
		logger: logger,
	}
}

// Get returns the record for a user, created with defaults when absent.
// GET /api/v1/entitlements/{user_id}
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Get(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.EntitlementFromModel(e))
}

// AcknowledgeOnboarding marks the one-time credit message as shown.
// POST /api/v1/entitlements/{user_id}/onboarding-ack
func (h *EntitlementHandler) AcknowledgeOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.AcknowledgeOnboarding(r.Context(), chi.URLParam(r, "user_id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Usage lists recent allowed actions for a user.
// GET /api/v1/entitlements/{user_id}/usage?limit=N
func (h *EntitlementHandler) Usage(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	rows, err := h.svc.Usage(r.Context(), chi.URLParam(r, "user_id"), limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UsageFromModel(rows))
}

func (h *EntitlementHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrInvalidUserID) {
		writeError(w, http.StatusBadRequest, "INVALID_USER_ID", "Invalid user id")
		return
	}
	h.logger.Error("internal_error",
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}
