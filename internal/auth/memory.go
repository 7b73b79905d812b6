package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"edvault.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore implements Store with in-process concurrency safety. Used by tests
// and DSN-less runs.
type MemStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal
	byEmail    map[string]string
	tokens     map[string]*RefreshToken
	tenants    map[string]*Tenant
}

func NewMemStore() *MemStore {
	return &MemStore{
		principals: make(map[string]*Principal),
		byEmail:    make(map[string]string),
		tokens:     make(map[string]*RefreshToken),
		tenants:    make(map[string]*Tenant),
	}
}

func (m *MemStore) Principals(ctx context.Context) PrincipalStore { return (*memPrincipals)(m) }

func (m *MemStore) RefreshTokens(ctx context.Context) RefreshTokenStore { return (*memTokens)(m) }

func (m *MemStore) Tenants(ctx context.Context) TenantStore { return (*memTenants)(m) }

// Principal store ----------------------------------------------------------
type memPrincipals MemStore

func (m *memPrincipals) Create(ctx context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.Binding.Kind == "" {
		p.Binding.Kind = TenantNone
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.principals[p.ID] = &cp
	m.byEmail[strings.ToLower(p.Email)] = p.ID
	return nil
}

func (m *memPrincipals) Find(ctx context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipals) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.principals[id]
	return &cp, nil
}

// ChangePasswordCascade holds the write lock across both mutations so no
// reader ever sees the new password next to a live old session.
func (m *memPrincipals) ChangePasswordCascade(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = passwordHash
	p.UpdatedAt = time.Now().UTC()
	for _, tok := range m.tokens {
		if tok.PrincipalID == id {
			tok.Revoked = true
		}
	}
	return nil
}

func (m *memPrincipals) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.LastLoginAt = &at
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memPrincipals) SetStatus(ctx context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Refresh token store ------------------------------------------------------
type memTokens MemStore

func (m *memTokens) Create(ctx context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	cp := *tok
	m.tokens[tok.ID] = &cp
	return nil
}

func (m *memTokens) Find(ctx context.Context, id string) (*RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

// TouchActive holds the write lock for the whole check-and-stamp so a
// concurrent revocation observes one consistent outcome.
func (m *memTokens) TouchActive(ctx context.Context, id string, now time.Time) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok || tok.Revoked || !now.Before(tok.ExpiresAt) {
		return nil, ErrNotFound
	}
	tok.LastUsedAt = &now
	cp := *tok
	return &cp, nil
}

func (m *memTokens) MarkRevoked(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (m *memTokens) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for id, tok := range m.tokens {
		if tok.ExpiresAt.Before(before) {
			delete(m.tokens, id)
			purged++
		}
	}
	return purged, nil
}

// Tenant store -------------------------------------------------------------
type memTenants MemStore

func (m *memTenants) Create(ctx context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *memTenants) Find(ctx context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTenants) SetStatus(ctx context.Context, id string, status TenantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memTenants) SuspendCascade(ctx context.Context, id string, status TenantStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return 0, ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()

	bound := make(map[string]struct{})
	for pid, p := range m.principals {
		if p.Binding.TenantID == id {
			bound[pid] = struct{}{}
		}
	}
	var revoked int64
	for _, tok := range m.tokens {
		if tok.Revoked {
			continue
		}
		if _, ok := bound[tok.PrincipalID]; ok {
			tok.Revoked = true
			revoked++
		}
	}
	return revoked, nil
}

func (m *memTenants) ListContractExpired(ctx context.Context, asOf time.Time) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Tenant
	for _, t := range m.tenants {
		if t.Status != TenantActive || t.ContractExpiresAt == nil {
			continue
		}
		if t.ContractExpiresAt.Before(asOf) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
