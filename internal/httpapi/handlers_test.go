package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"edvault.org/internal/audit"
	"edvault.org/internal/auth"
	"edvault.org/internal/content"
	"edvault.org/internal/grant"
	"edvault.org/internal/tenancy"
)

type testEnv struct {
	handler http.Handler
	store   *auth.MemStore
	ledger  *audit.MemLedger
	units   *content.Service

	college   *auth.Tenant
	publisher *auth.Tenant

	activeUnit  *content.Unit
	pendingUnit *content.Unit
}

type storeDirectory struct {
	store auth.Store
}

func (d storeDirectory) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	return d.store.Tenants(ctx).Find(ctx, id)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := auth.NewMemStore()
	ledger := audit.NewMemLedger()
	ctx := context.Background()

	sessions, err := auth.NewService(store, ledger, "httpapi-test-secret")
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	units, err := content.NewService(content.NewMemStore(), ledger)
	if err != nil {
		t.Fatalf("content.NewService: %v", err)
	}
	grants, err := grant.NewIssuer(grant.NewMemStore(), units, storeDirectory{store: store}, ledger, "httpapi-test-secret")
	if err != nil {
		t.Fatalf("grant.NewIssuer: %v", err)
	}

	env := &testEnv{store: store, ledger: ledger, units: units}

	env.college = &auth.Tenant{Kind: auth.TenantCollege, Name: "Hillside College", Status: auth.TenantActive}
	env.publisher = &auth.Tenant{Kind: auth.TenantPublisher, Name: "Vista Press", Status: auth.TenantActive}
	for _, tenant := range []*auth.Tenant{env.college, env.publisher} {
		if err := store.Tenants(ctx).Create(ctx, tenant); err != nil {
			t.Fatalf("create tenant: %v", err)
		}
	}

	seed := func(email string, role auth.Role, binding auth.TenantBinding) {
		hash, err := auth.HashPassword("correct-password")
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		p := &auth.Principal{
			Email:        email,
			DisplayName:  email,
			PasswordHash: hash,
			Role:         role,
			Status:       auth.StatusActive,
			Binding:      binding,
		}
		if err := store.Principals(ctx).Create(ctx, p); err != nil {
			t.Fatalf("create principal %s: %v", email, err)
		}
	}
	seed("owner@edvault.example", auth.RoleOwner, auth.TenantBinding{Kind: auth.TenantNone})
	seed("admin@vista.example", auth.RolePublisherAdmin, auth.TenantBinding{Kind: auth.TenantPublisher, TenantID: env.publisher.ID})
	seed("student@hillside.example", auth.RoleStudent, auth.TenantBinding{Kind: auth.TenantCollege, TenantID: env.college.ID})

	actor := auth.Principal{ID: "seed", Role: auth.RolePublisherAdmin}
	env.activeUnit, err = units.Create(ctx, content.CreateInput{
		PublisherID:      env.publisher.ID,
		Title:            "Pathophysiology",
		Kind:             "ebook",
		WatermarkEnabled: true,
		CompetencyIDs:    []string{"comp-1"},
	}, actor, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("create active unit: %v", err)
	}
	env.pendingUnit, err = units.Create(ctx, content.CreateInput{
		PublisherID: env.publisher.ID,
		Title:       "Unmapped Draft",
	}, actor, auth.ClientMeta{})
	if err != nil {
		t.Fatalf("create pending unit: %v", err)
	}

	api := New(Config{
		Sessions: sessions,
		Store:    store,
		Guard:    tenancy.NewGuard(ledger),
		Units:    units,
		Grants:   grants,
		Ledger:   ledger,
		Version:  "test",
	})
	env.handler = api.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T, email string) loginResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{Email: email, Password: "correct-password"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", email, rr.Code, rr.Body.String())
	}
	var res loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return res
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	env := newTestEnv(t)

	login := env.login(t, "student@hillside.example")
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatalf("incomplete login response: %+v", login)
	}
	if login.Principal.Role != auth.RoleStudent {
		t.Fatalf("unexpected principal: %+v", login.Principal)
	}
	if !login.RefreshExpiresAt.After(time.Now()) {
		t.Fatalf("refresh expiry in the past: %v", login.RefreshExpiresAt)
	}

	rr := env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: login.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var refreshed refreshResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Fatalf("expected refreshed access token")
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/logout", login.AccessToken, logoutRequest{RefreshToken: login.RefreshToken})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: login.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rr.Code)
	}
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	env := newTestEnv(t)

	bodies := make([]string, 0, 2)
	for _, attempt := range []loginRequest{
		{Email: "ghost@nowhere.example", Password: "correct-password"},
		{Email: "student@hillside.example", Password: "wrong-password"},
	} {
		rr := env.do(t, http.MethodPost, "/v1/auth/login", "", attempt)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("login %s: expected 401, got %d", attempt.Email, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		bodies = append(bodies, body["error"].(string))
	}
	if bodies[0] != bodies[1] || bodies[0] != "invalid credentials" {
		t.Fatalf("failure bodies must not reveal the factor: %q vs %q", bodies[0], bodies[1])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/content-units/"+env.activeUnit.ID+"/access", "", accessRequest{DeviceType: "web"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate challenge")
	}

	rr = env.do(t, http.MethodPost, "/v1/content-units/"+env.activeUnit.ID+"/access", "garbage-token", accessRequest{DeviceType: "web"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rr.Code)
	}
}

func TestContentAccessIssuesWatermarkedGrant(t *testing.T) {
	env := newTestEnv(t)
	login := env.login(t, "student@hillside.example")

	rr := env.do(t, http.MethodPost, "/v1/content-units/"+env.activeUnit.ID+"/access", login.AccessToken, accessRequest{DeviceType: "tablet"})
	if rr.Code != http.StatusOK {
		t.Fatalf("access: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res grant.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode grant: %v", err)
	}
	if res.AccessToken == "" || res.SessionID == "" {
		t.Fatalf("incomplete grant: %+v", res)
	}
	if res.Watermark == nil || res.Watermark.TenantName != "Hillside College" {
		t.Fatalf("expected watermark naming the college, got %+v", res.Watermark)
	}
	if res.Content.Title != "Pathophysiology" {
		t.Fatalf("content descriptor mismatch: %+v", res.Content)
	}

	// A unit that never passed the mapping gate is invisible.
	rr = env.do(t, http.MethodPost, "/v1/content-units/"+env.pendingUnit.ID+"/access", login.AccessToken, accessRequest{DeviceType: "tablet"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("pending unit: expected 404, got %d", rr.Code)
	}
}

func TestTenantGuardRejectsForeignQueryParam(t *testing.T) {
	env := newTestEnv(t)
	login := env.login(t, "student@hillside.example")

	path := "/v1/content-units/" + env.activeUnit.ID + "/access?college_id=" + env.publisher.ID
	rr := env.do(t, http.MethodPost, path, login.AccessToken, accessRequest{DeviceType: "web"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("cross-tenant param: expected 403, got %d: %s", rr.Code, rr.Body.String())
	}

	events := env.ledger.ByAction(audit.ActionCrossTenant)
	if len(events) != 1 {
		t.Fatalf("expected 1 cross-tenant event, got %d", len(events))
	}
	if events[0].TenantID != env.college.ID || events[0].TargetID != env.publisher.ID {
		t.Fatalf("event should carry both tenants: %+v", events[0])
	}

	// The same request scoped to the caller's own tenant passes.
	path = "/v1/content-units/" + env.activeUnit.ID + "/access?college_id=" + env.college.ID
	rr = env.do(t, http.MethodPost, path, login.AccessToken, accessRequest{DeviceType: "web"})
	if rr.Code != http.StatusOK {
		t.Fatalf("own tenant param: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestContentStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@vista.example")
	student := env.login(t, "student@hillside.example")

	// A student has no business changing publish status.
	rr := env.do(t, http.MethodPatch, "/v1/content-units/"+env.activeUnit.ID+"/status", student.AccessToken,
		statusRequest{Status: "inactive", Reason: "nope"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("student status change: expected 403, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPatch, "/v1/content-units/"+env.activeUnit.ID+"/status", admin.AccessToken,
		statusRequest{Status: "inactive", Reason: "superseded edition"})
	if rr.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var u content.Unit
	if err := json.Unmarshal(rr.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode unit: %v", err)
	}
	if u.Status != content.UnitInactive || u.DeactivateReason != "superseded edition" {
		t.Fatalf("unexpected unit: %+v", u)
	}

	// Activating the unmapped unit hits the competency gate.
	rr = env.do(t, http.MethodPatch, "/v1/content-units/"+env.pendingUnit.ID+"/status", admin.AccessToken,
		statusRequest{Status: "active"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("gate: expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPatch, "/v1/content-units/missing/status", admin.AccessToken,
		statusRequest{Status: "inactive"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing unit: expected 404, got %d", rr.Code)
	}
}

func TestTenantStatusEndpointCascades(t *testing.T) {
	env := newTestEnv(t)
	owner := env.login(t, "owner@edvault.example")
	admin := env.login(t, "admin@vista.example")
	student := env.login(t, "student@hillside.example")

	// Only the platform owner may flip tenant status; for a publisher admin
	// even their own tenant is off-limits.
	rr := env.do(t, http.MethodPatch, "/v1/tenants/"+env.publisher.ID+"/status", admin.AccessToken,
		tenantStatusRequest{Status: "suspended"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("admin tenant change: expected 403, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPatch, "/v1/tenants/"+env.publisher.ID+"/status", owner.AccessToken,
		tenantStatusRequest{Status: "suspended", Reason: "contract dispute"})
	if rr.Code != http.StatusOK {
		t.Fatalf("suspend: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res tenantStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.TokensRevoked != 1 {
		t.Fatalf("expected the admin session revoked, got %d", res.TokensRevoked)
	}
	if res.UnitsDeactivated != 1 {
		t.Fatalf("expected the active unit deactivated, got %d", res.UnitsDeactivated)
	}

	// The suspended publisher's sessions are dead.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: admin.RefreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("suspended tenant refresh: expected 401, got %d", rr.Code)
	}
	// Its content is no longer releasable to anyone.
	rr = env.do(t, http.MethodPost, "/v1/content-units/"+env.activeUnit.ID+"/access", student.AccessToken, accessRequest{DeviceType: "web"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("suspended publisher content: expected 404, got %d", rr.Code)
	}

	// Reinstatement flips status without touching sessions or content.
	rr = env.do(t, http.MethodPatch, "/v1/tenants/"+env.publisher.ID+"/status", owner.AccessToken,
		tenantStatusRequest{Status: "active"})
	if rr.Code != http.StatusOK {
		t.Fatalf("reinstate: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env.publisherMustHaveStatus(t, auth.TenantActive)

	rr = env.do(t, http.MethodPatch, "/v1/tenants/"+env.publisher.ID+"/status", owner.AccessToken,
		tenantStatusRequest{Status: "frozen"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPatch, "/v1/tenants/no-such-tenant/status", owner.AccessToken,
		tenantStatusRequest{Status: "suspended"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing tenant: expected 404, got %d", rr.Code)
	}
}

func (e *testEnv) publisherMustHaveStatus(t *testing.T, want auth.TenantStatus) {
	t.Helper()
	got, err := e.store.Tenants(context.Background()).Find(context.Background(), e.publisher.ID)
	if err != nil {
		t.Fatalf("find publisher: %v", err)
	}
	if got.Status != want {
		t.Fatalf("publisher status: want %s, got %s", want, got.Status)
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/v1/info", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("info: expected 200, got %d", rr.Code)
	}
	var info map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info["name"] != "edvault-api" || info["version"] != "test" {
		t.Fatalf("unexpected info payload: %v", info)
	}
}
