package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"decisiongate.org/internal/audit"
	"decisiongate.org/internal/auth"
)

type tokenRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !auth.SupportsTokens() {
		writeError(w, r, http.StatusServiceUnavailable, "token auth is not configured")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	tenantID := strings.TrimSpace(req.TenantID)
	email := strings.TrimSpace(req.Email)
	if tenantID == "" || email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "tenant_id, email and password are required")
		return
	}

	user, err := a.users.Users(r.Context()).FindByEmail(r.Context(), tenantID, email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !user.Active() || auth.VerifyPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.TenantID, user.Role, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       user.ID,
		"tenant":     user.TenantID,
		"role":       string(user.Role),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
