package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"changeops.io/internal/audit"
	"changeops.io/internal/auth"
	"changeops.io/internal/tenant"
)

type createOrganizationRequest struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

type organizationResponse struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type userResponse struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles,omitempty"`
	Status string   `json:"status"`
}

// handleOrgs serves the platform-level collection. Reachable only behind
// RequireRole(superadmin).
func (a *API) handleOrgs(w http.ResponseWriter, r *http.Request) {
	if a.tenants == nil {
		writeError(w, r, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	switch r.Method {
	case http.MethodGet:
		orgs, err := a.tenants.Organizations().List(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		out := make([]organizationResponse, 0, len(orgs))
		for _, org := range orgs {
			out = append(out, toOrganizationResponse(org))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	case http.MethodPost:
		var req createOrganizationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		org := &tenant.Organization{Name: name, Metadata: req.Metadata}
		if err := a.tenants.Organizations().Create(r.Context(), org); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		_ = audit.LogEvent(r.Context(), "org.create", map[string]any{
			"organization_id": org.ID,
			"name":            org.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/orgs/%s", org.ID))
		writeJSON(w, http.StatusCreated, toOrganizationResponse(org))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleOrgScoped serves /v1/orgs/{id} and /v1/orgs/{id}/users. Tenant
// users see their own organization; operators reach a tenant only through
// an impersonation scope for that organization.
func (a *API) handleOrgScoped(w http.ResponseWriter, r *http.Request) {
	if a.tenants == nil {
		writeError(w, r, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/orgs/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]

	if !a.orgAccess(r, orgID) {
		writeError(w, r, http.StatusForbidden, "organization access denied")
		return
	}

	switch {
	case len(parts) == 1:
		a.handleOrg(w, r, orgID)
	case len(parts) == 2 && parts[1] == "users":
		a.handleOrgUsers(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleOrg(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	org, err := a.tenants.Organizations().Find(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "organization not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toOrganizationResponse(org))
}

func (a *API) handleOrgUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	users, err := a.tenants.Users().ListByOrg(r.Context(), orgID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse{
			ID:     u.ID,
			Email:  u.Email,
			Roles:  u.Roles,
			Status: u.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

// orgAccess decides whether the request may touch the given tenant. An
// impersonation scope grants access to exactly its organization; otherwise
// the session must belong to the organization itself.
func (a *API) orgAccess(r *http.Request, orgID string) bool {
	if scope, ok := ScopeFromContext(r.Context()); ok {
		return scope.OrganizationID == orgID
	}
	if claims, ok := auth.SessionFromContext(r.Context()); ok {
		return claims.OrganizationID == orgID
	}
	return false
}

func toOrganizationResponse(org *tenant.Organization) organizationResponse {
	return organizationResponse{
		ID:       org.ID,
		Name:     org.Name,
		Status:   org.Status,
		Metadata: org.Metadata,
	}
}
