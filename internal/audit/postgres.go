package audit

import (
	"context"
	"database/sql"

	"edvault.org/internal/ids"
)

var _ Ledger = (*PGLedger)(nil)

// PGLedger persists events into the audit_log table.
type PGLedger struct {
	db *sql.DB
}

func NewPGLedger(db *sql.DB) *PGLedger {
	return &PGLedger{db: db}
}

func (l *PGLedger) Append(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = nowUTC()
	}
	_, err := l.db.ExecContext(ctx,
		`insert into audit_log(id, occurred_at, actor_id, tenant_id, action, target_type, target_id, description, ip, user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.OccurredAt, nullable(e.ActorID), nullable(e.TenantID), e.Action,
		e.TargetType, e.TargetID, e.Description, e.IP, e.UserAgent,
	)
	if err != nil {
		return err
	}
	mirror(e)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
