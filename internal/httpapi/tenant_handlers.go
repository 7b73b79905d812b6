package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"edvault.org/internal/audit"
	"edvault.org/internal/auth"
)

type tenantStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type tenantStatusResponse struct {
	TenantID         string `json:"tenant_id"`
	Status           string `json:"status"`
	TokensRevoked    int64  `json:"tokens_revoked"`
	UnitsDeactivated int    `json:"units_deactivated"`
}

func (a *API) handleTenantScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "status" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.handleTenantStatus(w, r, parts[0])
}

// handleTenantStatus is the administrative path that suspends or reinstates a
// tenant. Suspension cascades: every refresh token of the tenant's principals
// is revoked atomically, and a publisher's active content is taken offline.
func (a *API) handleTenantStatus(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !requireRole(w, r, principal, auth.RoleOwner) {
		return
	}
	var req tenantStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	status := auth.TenantStatus(req.Status)
	switch status {
	case auth.TenantActive, auth.TenantSuspended, auth.TenantExpired:
	default:
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown tenant status %q", req.Status))
		return
	}

	tenant, err := a.store.Tenants(r.Context()).Find(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	meta := clientMeta(r)
	resp := tenantStatusResponse{TenantID: tenant.ID, Status: string(status)}

	if status == auth.TenantActive {
		if err := a.store.Tenants(r.Context()).SetStatus(r.Context(), tenant.ID, status); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
	} else {
		revoked, err := a.sessions.RevokeAllForTenant(r.Context(), principal.ID, tenant.ID, status, meta)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		resp.TokensRevoked = revoked
		if tenant.Kind == auth.TenantPublisher {
			reason := req.Reason
			if reason == "" {
				reason = "tenant " + string(status)
			}
			n, err := a.units.BulkDeactivateForPublisher(r.Context(), tenant.ID, principal, reason, meta)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "internal error")
				return
			}
			resp.UnitsDeactivated = n
		}
	}

	_ = a.ledger.Append(r.Context(), &audit.Event{
		ActorID:     principal.ID,
		TenantID:    tenant.ID,
		Action:      audit.ActionTenantStatus,
		TargetType:  "tenant",
		TargetID:    tenant.ID,
		Description: fmt.Sprintf("%s -> %s", tenant.Status, status),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	})
	writeJSON(w, http.StatusOK, resp)
}
