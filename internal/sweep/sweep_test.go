package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"edvault.org/internal/audit"
	"edvault.org/internal/auth"
	"edvault.org/internal/content"
	"edvault.org/internal/ids"
)

func TestSweepExpiresPublisherContracts(t *testing.T) {
	store := auth.NewMemStore()
	ledger := audit.NewMemLedger()
	sessions, err := auth.NewService(store, ledger, "sweep-test-secret")
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	units, err := content.NewService(content.NewMemStore(), ledger)
	if err != nil {
		t.Fatalf("content.NewService: %v", err)
	}
	ctx := context.Background()

	lapsed := time.Now().UTC().Add(-24 * time.Hour)
	pub := &auth.Tenant{
		ID:                ids.New(),
		Kind:              auth.TenantPublisher,
		Name:              "Lapsed Press",
		Status:            auth.TenantActive,
		ContractExpiresAt: &lapsed,
	}
	if err := store.Tenants(ctx).Create(ctx, pub); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	future := time.Now().UTC().Add(24 * time.Hour)
	healthy := &auth.Tenant{
		ID:                ids.New(),
		Kind:              auth.TenantPublisher,
		Name:              "Current Press",
		Status:            auth.TenantActive,
		ContractExpiresAt: &future,
	}
	if err := store.Tenants(ctx).Create(ctx, healthy); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	hash, err := auth.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	p := &auth.Principal{
		ID:           ids.New(),
		Email:        "editor@lapsed.example",
		PasswordHash: hash,
		Role:         auth.RolePublisherAdmin,
		Status:       auth.StatusActive,
		Binding:      auth.TenantBinding{Kind: auth.TenantPublisher, TenantID: pub.ID},
	}
	if err := store.Principals(ctx).Create(ctx, p); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	pair, _, err := sessions.Authenticate(ctx, "editor@lapsed.example", "s3cret-pass", auth.ClientMeta{})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	actor := auth.Principal{ID: "pub-admin"}
	for _, owner := range []string{pub.ID, healthy.ID} {
		if _, err := units.Create(ctx, content.CreateInput{
			PublisherID:   owner,
			Title:         "Catalog Item",
			CompetencyIDs: []string{"comp-1"},
		}, actor, auth.ClientMeta{}); err != nil {
			t.Fatalf("create unit for %s: %v", owner, err)
		}
	}

	sweeper := New(store, sessions, units)
	sweeper.Sweep(ctx)

	got, err := store.Tenants(ctx).Find(ctx, pub.ID)
	if err != nil {
		t.Fatalf("Find tenant: %v", err)
	}
	if got.Status != auth.TenantExpired {
		t.Fatalf("lapsed tenant should be expired, got %s", got.Status)
	}
	if _, _, err := sessions.Refresh(ctx, pair.RefreshToken, auth.ClientMeta{}); !errors.Is(err, auth.ErrTokenInvalid) {
		t.Fatalf("lapsed tenant session should be revoked, got %v", err)
	}

	lapsedUnits, err := units.BulkDeactivateForPublisher(ctx, pub.ID, actor, "recheck", auth.ClientMeta{})
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if lapsedUnits != 0 {
		t.Fatalf("sweep should have deactivated every unit already, %d left", lapsedUnits)
	}

	got, err = store.Tenants(ctx).Find(ctx, healthy.ID)
	if err != nil {
		t.Fatalf("Find healthy tenant: %v", err)
	}
	if got.Status != auth.TenantActive {
		t.Fatalf("unexpired tenant must stay active, got %s", got.Status)
	}

	// A second pass finds nothing new.
	before := len(ledger.ByAction(audit.ActionTenantRevoked))
	sweeper.Sweep(ctx)
	if after := len(ledger.ByAction(audit.ActionTenantRevoked)); after != before {
		t.Fatalf("repeat sweep must be idempotent: %d -> %d events", before, after)
	}
}

func TestSweepPurgesExpiredTokens(t *testing.T) {
	store := auth.NewMemStore()
	ledger := audit.NewMemLedger()
	sessions, err := auth.NewService(store, ledger, "sweep-test-secret")
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	units, err := content.NewService(content.NewMemStore(), ledger)
	if err != nil {
		t.Fatalf("content.NewService: %v", err)
	}
	ctx := context.Background()

	stale := &auth.RefreshToken{
		ID:          ids.New(),
		PrincipalID: "prin-1",
		TokenHash:   "stale",
		ExpiresAt:   time.Now().UTC().Add(-time.Hour),
	}
	live := &auth.RefreshToken{
		ID:          ids.New(),
		PrincipalID: "prin-1",
		TokenHash:   "live",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	for _, tok := range []*auth.RefreshToken{stale, live} {
		if err := store.RefreshTokens(ctx).Create(ctx, tok); err != nil {
			t.Fatalf("create token: %v", err)
		}
	}

	New(store, sessions, units).Sweep(ctx)

	if _, err := store.RefreshTokens(ctx).Find(ctx, stale.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("stale token should be purged, got %v", err)
	}
	if _, err := store.RefreshTokens(ctx).Find(ctx, live.ID); err != nil {
		t.Fatalf("live token should survive: %v", err)
	}
}
