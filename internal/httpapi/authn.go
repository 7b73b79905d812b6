package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"edvault.org/internal/auth"
	"edvault.org/internal/tenancy"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// tenantQueryParams are the request parameters that may carry a tenant
// reference; all of them pass through the isolation guard.
var tenantQueryParams = []string{"tenant_id", "college_id", "publisher_id"}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.sessions.AuthenticateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenInvalid):
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withTenantGuard applies the isolation check to every authenticated request:
// any tenant identifier in path or query is compared against the caller's
// binding. Handlers re-invoke the guard for body-carried identifiers.
func (a *API) withTenantGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ids := tenantIDsFromRequest(r)
		if len(ids) > 0 {
			if err := a.guard.CheckAll(r.Context(), principal, ids, clientMeta(r)); err != nil {
				if errors.Is(err, tenancy.ErrCrossTenant) {
					writeError(w, r, http.StatusForbidden, "cross-tenant access denied")
					return
				}
				writeError(w, r, http.StatusInternalServerError, "authorization error")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole rejects principals whose role is not in the allowed set.
func requireRole(w http.ResponseWriter, r *http.Request, p auth.Principal, roles ...auth.Role) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusForbidden, "insufficient role")
	return false
}

func tenantIDsFromRequest(r *http.Request) []string {
	var ids []string
	q := r.URL.Query()
	for _, param := range tenantQueryParams {
		if v := strings.TrimSpace(q.Get(param)); v != "" {
			ids = append(ids, v)
		}
	}
	if id := tenantIDFromPath(r.URL.Path); id != "" {
		ids = append(ids, id)
	}
	return ids
}

func tenantIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/v1/tenants/")
	if !ok {
		return ""
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return ""
	}
	return strings.Split(rest, "/")[0]
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
