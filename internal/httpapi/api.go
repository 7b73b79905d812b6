package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"edvault.org/internal/audit"
	"edvault.org/internal/auth"
	"edvault.org/internal/content"
	"edvault.org/internal/grant"
	"edvault.org/internal/obs"
	"edvault.org/internal/tenancy"
)

// ReadyProbe reports storage readiness (DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. The middleware chain enforces the blanket policy:
// authenticate, then tenant-isolate, then dispatch.
type API struct {
	mux        *http.ServeMux
	sessions   *auth.Service
	store      auth.Store
	guard      *tenancy.Guard
	units      *content.Service
	grants     *grant.Issuer
	ledger     audit.Ledger
	readyProbe ReadyProbe
	version    string
}

// Config collects API dependencies.
type Config struct {
	Sessions   *auth.Service
	Store      auth.Store
	Guard      *tenancy.Guard
	Units      *content.Service
	Grants     *grant.Issuer
	Ledger     audit.Ledger
	ReadyProbe ReadyProbe
	Version    string
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		sessions:   cfg.Sessions,
		store:      cfg.Store,
		guard:      cfg.Guard,
		units:      cfg.Units,
		grants:     cfg.Grants,
		ledger:     cfg.Ledger,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/change-password", a.handleChangePassword)

	a.mux.HandleFunc("/v1/content-units/", a.handleContentUnitScoped)
	a.mux.HandleFunc("/v1/tenants/", a.handleTenantScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wires the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withTenantGuard(http.Handler(a.mux))
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = Logging(h)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return RequestID(h)
}

// --- health/info ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "edvault-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "edvault-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
