package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"edvault.org/internal/auth"
	"edvault.org/internal/content"
	"edvault.org/internal/grant"
	"edvault.org/internal/tenancy"
)

type accessRequest struct {
	DeviceType string `json:"device_type"`
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (a *API) handleContentUnitScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/content-units/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	unitID := parts[0]
	switch parts[1] {
	case "access":
		a.handleContentAccess(w, r, unitID)
	case "status":
		a.handleContentStatus(w, r, unitID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleContentAccess(w http.ResponseWriter, r *http.Request, unitID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req accessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.grants.Issue(r.Context(), principal, unitID, req.DeviceType, clientMeta(r))
	if err != nil {
		if errors.Is(err, grant.ErrContentUnavailable) {
			writeError(w, r, http.StatusNotFound, "content unavailable")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleContentStatus(w http.ResponseWriter, r *http.Request, unitID string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !requireRole(w, r, principal, auth.RoleOwner, auth.RolePublisherAdmin) {
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, err := a.units.Find(r.Context(), unitID)
	if err != nil {
		handleContentError(w, r, err)
		return
	}
	// The unit's owning publisher is a tenant reference carried by the
	// request target; run it through the isolation guard.
	if err := a.guard.Check(r.Context(), principal, u.PublisherID, clientMeta(r)); err != nil {
		if errors.Is(err, tenancy.ErrCrossTenant) {
			writeError(w, r, http.StatusForbidden, "cross-tenant access denied")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "authorization error")
		return
	}

	updated, err := a.units.ChangeStatus(r.Context(), unitID, content.UnitStatus(req.Status), principal, req.Reason, clientMeta(r))
	if err != nil {
		handleContentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func handleContentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, content.ErrMappingRequired),
		errors.Is(err, content.ErrInvalidTransition),
		errors.Is(err, content.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, content.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, content.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
