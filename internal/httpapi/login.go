package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"changeops.io/internal/audit"
	"changeops.io/internal/auth"
	"changeops.io/internal/obs"
	"changeops.io/internal/tenant"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Roles          []string  `json:"roles,omitempty"`
}

// handleLogin authenticates a user and issues a session token. Failed
// attempts count against a per-subject throttle; a locked-out subject gets
// 429 before credentials are even checked.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sessions == nil || a.tenants == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login unavailable")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	throttleKey := email + "|" + clientIP(r)
	if a.loginThrottle != nil {
		blocked, retryAfter, err := a.loginThrottle.Blocked(r.Context(), throttleKey)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if blocked {
			obs.RateLimitRejected("login")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
			writeError(w, r, http.StatusTooManyRequests, "too many failed attempts")
			return
		}
	}

	user, err := a.tenants.Users().FindByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, tenant.ErrNotFound) {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err != nil || !user.Active() || auth.VerifyPassword(user.PasswordHash, req.Password) != nil {
		if a.loginThrottle != nil {
			_ = a.loginThrottle.RecordFailure(r.Context(), throttleKey)
		}
		// Same response whether the account exists or not.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if a.loginThrottle != nil {
		_ = a.loginThrottle.Reset(r.Context(), throttleKey)
	}

	token, claims, err := a.sessions.Issue(user.ID, user.OrganizationID, user.Roles)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(auth.ContextWithSession(r.Context(), claims), "auth.login", map[string]any{
		"email": email,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:          token,
		ExpiresAt:      claims.ExpiresAt.Time,
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Roles:          claims.Roles,
	})
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
