package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/lampstand/entitlements/internal/billing"
	"github.com/lampstand/entitlements/internal/handler/dto"
	"github.com/lampstand/entitlements/internal/middleware"
)

// MaxWebhookBodySize bounds a Stripe delivery.
const MaxWebhookBodySize = 1 << 20

// EventVerifier authenticates a raw webhook delivery.
type EventVerifier interface {
	Verify(payload []byte, sigHeader string) (stripe.Event, error)
}

// EventProcessor applies a verified event.
type EventProcessor interface {
	Process(ctx context.Context, event stripe.Event) (billing.Result, error)
}

// BillingHandler receives Stripe webhooks.
type BillingHandler struct {
	verifier  EventVerifier
	processor EventProcessor
	logger    *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(verifier EventVerifier, processor EventProcessor, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		verifier:  verifier,
		processor: processor,
		logger:    logger,
	}
}

// StripeWebhook handles a Stripe delivery.
// Only persistence failures answer 5xx; everything else that passed
// verification is acknowledged so Stripe stops retrying.
// POST /webhooks/stripe
func (h *BillingHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodySize))
	if err != nil {
		h.logger.Warn("webhook body unreadable",
			"request_id", requestID,
			"error", err,
		)
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Request body could not be read")
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected",
			"request_id", requestID,
			"error", err,
		)
		switch {
		case errors.Is(err, billing.ErrMissingSignature):
			writeError(w, http.StatusBadRequest, "MISSING_SIGNATURE", "Stripe-Signature header is required")
		default:
			writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "Signature verification failed")
		}
		return
	}

	result, err := h.processor.Process(r.Context(), event)
	if err != nil {
		h.logger.Error("webhook processing failed",
			"request_id", requestID,
			"event_id", event.ID,
			"event_type", string(event.Type),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "PROCESSING_FAILED", "Event could not be applied")
		return
	}

	h.logger.Info("webhook processed",
		"request_id", requestID,
		"event_id", event.ID,
		"event_type", string(event.Type),
		"outcome", string(result.Outcome),
	)
	writeJSON(w, http.StatusOK, dto.WebhookAck{Received: true})
}
