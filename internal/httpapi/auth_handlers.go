package httpapi

import (
	"errors"
	"net/http"
	"time"

	"edvault.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken      string         `json:"access_token"`
	RefreshToken     string         `json:"refresh_token"`
	AccessExpiresAt  time.Time      `json:"access_expires_at"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at"`
	Principal        auth.Principal `json:"principal"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, principal, err := a.sessions.Authenticate(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Principal:        principal,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	access, expiresAt, err := a.sessions.Refresh(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: access,
		ExpiresAt:   expiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.sessions.Revoke(r.Context(), principal.ID, req.RefreshToken, clientMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	err := a.sessions.ChangePassword(r.Context(), principal.ID, req.CurrentPassword, req.NewPassword, clientMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthError maps credential failures to a uniform 401 body so callers
// can never tell which factor failed. Storage errors stay 500 and are never
// presented as a denial.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAccountNotActive),
		errors.Is(err, auth.ErrTenantNotActive):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
