package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"changeops.io/internal/audit"
	"changeops.io/internal/auth"
	"changeops.io/internal/impersonation"
	"changeops.io/internal/obs"
	"changeops.io/internal/tenant"
)

// ImpersonationHeader carries the capability token on tenant-scoped
// requests made from the Super Admin console.
const ImpersonationHeader = "X-Impersonation-Token"

// Scope is the validated impersonation grant attached to a request.
type Scope struct {
	SessionID      string
	OrganizationID string
	Mode           impersonation.Mode
}

// Write reports whether the scope permits mutations.
func (s Scope) Write() bool {
	return s.Mode == impersonation.ModeWrite
}

type scopeContextKey struct{}

// ContextWithScope attaches a validated impersonation scope to the context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext returns the impersonation scope, if the request carried
// a valid token.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	v, ok := ctx.Value(scopeContextKey{}).(Scope)
	return v, ok
}

// withImpersonation validates the impersonation header when present. The
// token must belong to the authenticated operator session, and read-mode
// tokens reject mutating methods outright.
func (a *API) withImpersonation(next http.Handler) http.Handler {
	if a == nil || a.impersonation == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ImpersonationHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		payload, err := a.impersonation.Validate(raw)
		if err != nil {
			obs.ImpersonationRejected()
			writeError(w, r, http.StatusUnauthorized, "invalid impersonation token")
			return
		}
		if claims, ok := auth.SessionFromContext(r.Context()); ok && claims.SessionID() != payload.SessionID {
			obs.ImpersonationRejected()
			writeError(w, r, http.StatusUnauthorized, "invalid impersonation token")
			return
		}
		if isWriteMethod(r.Method) && payload.Mode != impersonation.ModeWrite {
			writeError(w, r, http.StatusForbidden, "impersonation token does not permit writes")
			return
		}

		ctx := ContextWithScope(r.Context(), Scope{
			SessionID:      payload.SessionID,
			OrganizationID: payload.OrganizationID,
			Mode:           payload.Mode,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type impersonateRequest struct {
	OrganizationID string `json:"organization_id"`
	Mode           string `json:"mode"`
}

type impersonateResponse struct {
	Token          string    `json:"token"`
	OrganizationID string    `json:"organization_id"`
	Mode           string    `json:"mode"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// handleImpersonate mints an impersonation token for the authenticated
// operator. Reachable only behind RequireRole(superadmin).
func (a *API) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.impersonation == nil || a.tenants == nil {
		writeError(w, r, http.StatusServiceUnavailable, "impersonation unavailable")
		return
	}

	var req impersonateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	orgID := strings.TrimSpace(req.OrganizationID)
	if orgID == "" {
		writeError(w, r, http.StatusBadRequest, "organization_id is required")
		return
	}
	mode := impersonation.Mode(req.Mode)
	if mode != impersonation.ModeRead && mode != impersonation.ModeWrite {
		writeError(w, r, http.StatusBadRequest, "mode must be read or write")
		return
	}

	if _, err := a.tenants.Organizations().Find(r.Context(), orgID); err != nil {
		if err == tenant.ErrNotFound {
			writeError(w, r, http.StatusNotFound, "organization not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	claims, _ := auth.SessionFromContext(r.Context())
	if a.mintLimiter != nil {
		allowed, retryAfter, err := a.mintLimiter.Allow(r.Context(), claims.SessionID())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if !allowed {
			obs.RateLimitRejected("impersonate")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
			writeError(w, r, http.StatusTooManyRequests, "too many tokens minted")
			return
		}
	}
	token, err := a.impersonation.Generate(claims.SessionID(), orgID, mode)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	expiresAt := time.Now().UTC().Add(impersonation.TTL)

	obs.ImpersonationIssued(string(mode))
	_ = audit.LogEvent(r.Context(), "impersonation.token.issued", map[string]any{
		"organization_id": orgID,
		"mode":            string(mode),
		"expires_at":      expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, impersonateResponse{
		Token:          token,
		OrganizationID: orgID,
		Mode:           string(mode),
		ExpiresAt:      expiresAt,
	})
}
