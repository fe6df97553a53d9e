package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/kixikila/backend/internal/auth"
)

type contextKey string

const claimsKey contextKey = "authClaims"

// claimsFrom extracts the verified caller identity placed by the auth
// middleware.
func claimsFrom(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(auth.Claims)
	return c, ok
}

// authenticated verifies the bearer token and injects the claims into the
// request context.
func (h *APIHandlers) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := h.verifyRequest(w, r)
		if !ok {
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// adminOnly is authenticated plus a role gate.
func (h *APIHandlers) adminOnly(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := h.verifyRequest(w, r)
		if !ok {
			return
		}
		if claims.Role != auth.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (h *APIHandlers) verifyRequest(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		writeError(w, http.StatusUnauthorized, "missing authorization header")
		return auth.Claims{}, false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		writeError(w, http.StatusUnauthorized, "malformed authorization header")
		return auth.Claims{}, false
	}
	claims, err := h.tokens.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return auth.Claims{}, false
	}
	return claims, true
}
