// Package tenancy implements the tenant isolation guard: a request-scoped
// check comparing the caller's tenant binding against any tenant identifier
// named by the request.
package tenancy

import (
	"context"
	"errors"
	"fmt"

	"edvault.org/internal/audit"
	"edvault.org/internal/auth"
	"edvault.org/internal/obs"
)

// ErrCrossTenant indicates a request referenced a tenant the caller is not
// bound to. Always audited.
var ErrCrossTenant = errors.New("tenancy: cross-tenant access denied")

// Guard evaluates tenant isolation and records every rejection in the audit
// ledger with both the caller's and the requested tenant for forensics.
type Guard struct {
	ledger audit.Ledger
}

func NewGuard(ledger audit.Ledger) *Guard {
	return &Guard{ledger: ledger}
}

// Check is satisfied iff the principal has platform-wide scope, the request
// names no tenant, or the identifiers are equal. Any other case is a hard
// rejection.
func (g *Guard) Check(ctx context.Context, p auth.Principal, requestedTenantID string, meta auth.ClientMeta) error {
	if requestedTenantID == "" {
		return nil
	}
	if p.Binding.PlatformScope() && p.Role == auth.RoleOwner {
		return nil
	}
	if p.Binding.TenantID == requestedTenantID {
		return nil
	}

	obs.ObserveTenantRejection()
	if g.ledger != nil {
		_ = g.ledger.Append(ctx, &audit.Event{
			ActorID:     p.ID,
			TenantID:    p.Binding.TenantID,
			Action:      audit.ActionCrossTenant,
			TargetType:  "tenant",
			TargetID:    requestedTenantID,
			Description: fmt.Sprintf("principal bound to tenant %q referenced tenant %q", p.Binding.TenantID, requestedTenantID),
			IP:          meta.IP,
			UserAgent:   meta.UserAgent,
		})
	}
	return ErrCrossTenant
}

// CheckAll runs Check over every tenant identifier found in a request. The
// first rejection wins.
func (g *Guard) CheckAll(ctx context.Context, p auth.Principal, tenantIDs []string, meta auth.ClientMeta) error {
	for _, id := range tenantIDs {
		if err := g.Check(ctx, p, id, meta); err != nil {
			return err
		}
	}
	return nil
}
