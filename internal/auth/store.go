package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the credential subsystem.
type Store interface {
	Principals(ctx context.Context) PrincipalStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Tenants(ctx context.Context) TenantStore
}

// PrincipalStore manages identity records.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id string) (*Principal, error)
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	// ChangePasswordCascade swaps the password hash and revokes every
	// refresh token of the principal inside one atomic unit, so a failed
	// revocation can never leave the new password live alongside old
	// sessions.
	ChangePasswordCascade(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetStatus(ctx context.Context, id string, status Status) error
}

// RefreshTokenStore manages the revocable token table. Validation and
// revocation must be linearizable per row, so TouchActive is a single
// conditional update rather than a read followed by a write.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// TouchActive stamps last_used_at and returns the row iff it is neither
	// revoked nor expired as of now. ErrNotFound otherwise.
	TouchActive(ctx context.Context, id string, now time.Time) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// TenantStore manages tenant records and the suspension cascade.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	SetStatus(ctx context.Context, id string, status TenantStatus) error
	// SuspendCascade flips the tenant status and revokes every refresh token
	// of principals bound to the tenant inside one atomic unit. Returns the
	// number of revoked tokens.
	SuspendCascade(ctx context.Context, id string, status TenantStatus) (int64, error)
	ListContractExpired(ctx context.Context, asOf time.Time) ([]*Tenant, error)
}
