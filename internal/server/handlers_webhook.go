package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/kixikila/backend/internal/payments"
)

// maxWebhookBody bounds event payload size.
const maxWebhookBody = 1 << 20

// handlePaymentWebhook receives payment-processor deliveries. The bridge's
// error contract maps directly onto status codes: bad signatures are
// rejected without retry, transient apply failures ask for redelivery.
func (h *APIHandlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	err = h.bridge.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			writeError(w, http.StatusBadRequest, "signature verification failed")
			return
		}
		h.logger.Error("webhook apply failed", "error", err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
