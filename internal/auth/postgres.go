package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"edvault.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Principals(ctx context.Context) PrincipalStore {
	return &principalStore{db: s.db}
}
func (s *PGStore) RefreshTokens(ctx context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}
func (s *PGStore) Tenants(ctx context.Context) TenantStore { return &tenantStore{db: s.db} }

// Principal store ----------------------------------------------------------
type principalStore struct{ db *sql.DB }

const principalColumns = `id, email, display_name, password_hash, role, status, tenant_kind, tenant_id, last_login_at, created_at, updated_at`

func (s *principalStore) Create(ctx context.Context, p *Principal) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.Binding.Kind == "" {
		p.Binding.Kind = TenantNone
	}
	_, err := s.db.ExecContext(ctx,
		`insert into principals(id, email, display_name, password_hash, role, status, tenant_kind, tenant_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.Email, p.DisplayName, p.PasswordHash, p.Role, p.Status,
		p.Binding.Kind, nullableID(p.Binding.TenantID),
	)
	return err
}

func (s *principalStore) Find(ctx context.Context, id string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id)
	return scanPrincipal(row)
}

func (s *principalStore) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where email=$1`, email)
	return scanPrincipal(row)
}

// ChangePasswordCascade writes the new hash and revokes the principal's
// refresh tokens in one transaction, the same shape as SuspendCascade.
func (s *principalStore) ChangePasswordCascade(ctx context.Context, id, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update principals set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update refresh_tokens set revoked=true where principal_id=$1 and revoked=false`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *principalStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set last_login_at=$2, updated_at=now() where id=$1`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *principalStore) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`update principals set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanPrincipal(row *sql.Row) (*Principal, error) {
	var (
		p         Principal
		tenantID  sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.PasswordHash, &p.Role, &p.Status,
		&p.Binding.Kind, &tenantID, &lastLogin, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if tenantID.Valid {
		p.Binding.TenantID = tenantID.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLoginAt = &t
	}
	return &p, nil
}

// Refresh token store ------------------------------------------------------
type refreshTokenStore struct{ db *sql.DB }

const refreshTokenColumns = `id, principal_id, token_hash, expires_at, revoked, created_at, last_used_at`

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, principal_id, token_hash, expires_at) values($1,$2,$3,$4)`,
		tok.ID, tok.PrincipalID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+refreshTokenColumns+` from refresh_tokens where id=$1`, id)
	return scanRefreshToken(row)
}

// TouchActive is the linearization point for refresh validation: one
// conditional update, no read-then-write window.
func (s *refreshTokenStore) TouchActive(ctx context.Context, id string, now time.Time) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`update refresh_tokens set last_used_at=$2
		 where id=$1 and revoked=false and expires_at > $2
		 returning `+refreshTokenColumns, id, now)
	return scanRefreshToken(row)
}

func (s *refreshTokenStore) MarkRevoked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *refreshTokenStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRefreshToken(row *sql.Row) (*RefreshToken, error) {
	var (
		tok      RefreshToken
		lastUsed sql.NullTime
	)
	err := row.Scan(&tok.ID, &tok.PrincipalID, &tok.TokenHash, &tok.ExpiresAt,
		&tok.Revoked, &tok.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		tok.LastUsedAt = &t
	}
	return &tok, nil
}

// Tenant store -------------------------------------------------------------
type tenantStore struct{ db *sql.DB }

func (s *tenantStore) Create(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into tenants(id, kind, name, status, contract_expires_at) values($1,$2,$3,$4,$5)`,
		t.ID, t.Kind, t.Name, t.Status, t.ContractExpiresAt,
	)
	return err
}

func (s *tenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, kind, name, status, contract_expires_at, created_at, updated_at from tenants where id=$1`, id)
	var (
		t       Tenant
		expires sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Kind, &t.Name, &t.Status, &expires, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if expires.Valid {
		e := expires.Time
		t.ContractExpiresAt = &e
	}
	return &t, nil
}

func (s *tenantStore) SetStatus(ctx context.Context, id string, status TenantStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update tenants set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SuspendCascade performs the tenant status flip and the bulk token
// revocation inside one transaction so a suspended tenant can never be left
// with live tokens.
func (s *tenantStore) SuspendCascade(ctx context.Context, id string, status TenantStatus) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update tenants set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return 0, err
	}
	if err := requireRow(res); err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx,
		`update refresh_tokens set revoked=true
		 where revoked=false and principal_id in (select id from principals where tenant_id=$1)`, id)
	if err != nil {
		return 0, err
	}
	revoked, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return revoked, nil
}

func (s *tenantStore) ListContractExpired(ctx context.Context, asOf time.Time) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, kind, name, status, contract_expires_at, created_at, updated_at
		 from tenants where status=$1 and contract_expires_at is not null and contract_expires_at < $2`,
		TenantActive, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		var (
			t       Tenant
			expires sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Kind, &t.Name, &t.Status, &expires, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			e := expires.Time
			t.ContractExpiresAt = &e
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// helpers ------------------------------------------------------------------

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableID(s string) any {
	if s == "" {
		return nil
	}
	return s
}
