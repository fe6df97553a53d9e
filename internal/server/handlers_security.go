package server

import (
	"errors"
	"net/http"

	"github.com/kixikila/backend/internal/security"
)

type pinRequest struct {
	PIN string `json:"pin"`
}

// handlePIN manages the caller's transaction PIN. The bcrypt hash lives in
// the encrypted local cache and verification runs through the rate
// limiter, so repeated failures lock the account's PIN entry out.
func (h *APIHandlers) handlePIN(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	cacheKey := "pin_" + claims.UserID

	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodPut:
		hash, err := security.HashPIN(req.PIN)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !h.cache.Set(cacheKey, hash) {
			writeError(w, http.StatusTooManyRequests, "try again later")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "set"})
	case http.MethodPost:
		var hash string
		if !h.cache.Get(cacheKey, &hash) {
			writeError(w, http.StatusNotFound, "pin not set")
			return
		}
		decision, err := h.pins.Verify(cacheKey, hash, req.PIN)
		switch {
		case errors.Is(err, security.ErrPINLocked):
			w.Header().Set("Retry-After", decision.RetryAfter.Round(1e9).String())
			writeError(w, http.StatusTooManyRequests, "pin entry locked")
		case errors.Is(err, security.ErrPINMismatch):
			respondJSON(w, http.StatusUnauthorized, map[string]any{
				"error":        "pin mismatch",
				"attemptsLeft": decision.AttemptsLeft,
				"warn":         decision.Warn,
			})
		case err != nil:
			h.serviceError(w, r, err)
		default:
			respondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
		}
	default:
		methodNotAllowed(w, http.MethodPut, http.MethodPost)
	}
}
