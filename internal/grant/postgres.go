package grant

import (
	"context"
	"database/sql"
	"encoding/json"
)

var _ Store = (*PGStore)(nil)

// PGStore appends grants to the access_grants table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, g *Grant) error {
	wm, err := json.Marshal(g.Watermark)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into access_grants(id, principal_id, unit_id, tenant_id, tenant_name, device, issued_at, expires_at, watermark, ip, user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		g.ID, g.PrincipalID, g.UnitID, nullableID(g.TenantID), g.TenantName, g.Device,
		g.IssuedAt, g.ExpiresAt, wm, g.IP, g.UserAgent,
	)
	return err
}

func nullableID(s string) any {
	if s == "" {
		return nil
	}
	return s
}
