// Package audit provides the append-only security event ledger. Every other
// component writes to it; nothing in the core reads it back. Display joins
// are an external reporting concern.
package audit

import (
	"context"
	"strings"
	"time"

	"edvault.org/internal/obs"
)

// Action kinds recorded by the core.
const (
	ActionLoginSuccess     = "auth.login.success"
	ActionLoginFailed      = "auth.login.failed"
	ActionRefresh          = "auth.refresh"
	ActionLogout           = "auth.logout"
	ActionPasswordChanged  = "auth.password.changed"
	ActionTenantRevoked    = "auth.tenant.revoked"
	ActionCrossTenant      = "security.cross_tenant"
	ActionContentActivated = "content.activated"
	ActionContentDeactived = "content.deactivated"
	ActionContentBulkOff   = "content.bulk_deactivated"
	ActionGrantIssued      = "grant.issued"
	ActionTenantStatus     = "tenant.status.changed"
)

// Event is one immutable ledger row. ActorID is empty for pre-auth failures,
// TenantID is empty for platform-scoped actions.
type Event struct {
	ID          string
	OccurredAt  time.Time
	ActorID     string
	TenantID    string
	Action      string
	TargetType  string
	TargetID    string
	Description string
	IP          string
	UserAgent   string
}

// Ledger appends immutable events. Implementations must never update or
// delete previously written rows.
type Ledger interface {
	Append(ctx context.Context, e *Event) error
}

// mirror emits the event as a structured log line alongside persistence so
// operators can tail the ledger without a database session.
func mirror(e *Event) {
	fields := map[string]any{
		"event":       e.Action,
		"target_type": e.TargetType,
		"target_id":   e.TargetID,
	}
	if e.ActorID != "" {
		fields["actor_id"] = e.ActorID
	}
	if e.TenantID != "" {
		fields["tenant_id"] = e.TenantID
	}
	if d := strings.TrimSpace(e.Description); d != "" {
		fields["description"] = d
	}
	obs.LogEvent("audit", fields)
}
