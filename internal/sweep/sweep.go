// Package sweep runs the periodic maintenance passes: contract-expiry
// deactivation and stale token cleanup. Both are idempotent and go through
// the same service entry points as interactive traffic, so they are safe to
// run concurrently with live requests.
package sweep

import (
	"context"
	"time"

	"edvault.org/internal/auth"
	"edvault.org/internal/content"
	"edvault.org/internal/obs"
)

const defaultInterval = time.Hour

// systemActor attributes sweep-driven transitions in the audit ledger.
var systemActor = auth.Principal{ID: "system", Role: auth.RoleOwner, Binding: auth.TenantBinding{Kind: auth.TenantNone}}

// Sweeper owns the periodic passes.
type Sweeper struct {
	store    auth.Store
	sessions *auth.Service
	units    *content.Service
	interval time.Duration
	now      func() time.Time
}

// Option configures the Sweeper.
type Option func(*Sweeper)

// WithInterval overrides the sweep cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(store auth.Store, sessions *auth.Service, units *content.Service, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		sessions: sessions,
		units:    units,
		interval: defaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately, then on every tick until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Exported so tests and operators can trigger it
// directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	expired, err := s.store.Tenants(ctx).ListContractExpired(ctx, now)
	if err != nil {
		obs.LogEvent("sweep", map[string]any{"error": err.Error()})
		return
	}
	var deactivated int
	for _, t := range expired {
		if _, err := s.sessions.RevokeAllForTenant(ctx, systemActor.ID, t.ID, auth.TenantExpired, auth.ClientMeta{}); err != nil {
			obs.LogEvent("sweep", map[string]any{"tenant_id": t.ID, "error": err.Error()})
			continue
		}
		if t.Kind == auth.TenantPublisher {
			n, err := s.units.BulkDeactivateForPublisher(ctx, t.ID, systemActor, "publisher contract expired", auth.ClientMeta{})
			if err != nil {
				obs.LogEvent("sweep", map[string]any{"tenant_id": t.ID, "error": err.Error()})
				continue
			}
			deactivated += n
		}
	}

	purged, err := s.store.RefreshTokens(ctx).PurgeExpired(ctx, now)
	if err != nil {
		obs.LogEvent("sweep", map[string]any{"error": err.Error()})
		return
	}

	obs.LogEvent("sweep", map[string]any{
		"tenants_expired":   len(expired),
		"units_deactivated": deactivated,
		"tokens_purged":     purged,
		"completed_at":      s.now().UTC().Format(time.RFC3339),
	})
}
