package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"edvault.org/internal/audit"
	"edvault.org/internal/ids"
	"edvault.org/internal/obs"
)

const (
	defaultIssuer     = "edvault"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Service authenticates principals, issues and revokes credential pairs and
// records every outcome in the audit ledger.
type Service struct {
	store  Store
	ledger audit.Ledger
	now    func() time.Time

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Claims are the self-contained access token claims. The token carries the
// principal's role and tenant binding so request handling never goes back to
// storage for them.
type Claims struct {
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	TenantKind string `json:"tenant_kind,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	TokenType  string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is an access token plus its persisted refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the credential manager. The HS256 signing secret is
// mandatory.
func NewService(store Store, ledger audit.Ledger, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if ledger == nil {
		return nil, errors.New("auth: audit ledger is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &Service{
		store:      store,
		ledger:     ledger,
		now:        time.Now,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Authenticate verifies email and password and mints a fresh credential pair.
// Every outcome is audited; the error never reveals which factor failed.
func (s *Service) Authenticate(ctx context.Context, email, password string, meta ClientMeta) (TokenPair, Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	principals := s.store.Principals(ctx)

	p, err := principals.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.auditLogin(ctx, "", "", "unknown email", meta, false)
			return TokenPair{}, Principal{}, ErrInvalidCredentials
		}
		return TokenPair{}, Principal{}, err
	}
	if err := VerifyPassword(p.PasswordHash, password); err != nil {
		s.auditLogin(ctx, p.ID, p.Binding.TenantID, "wrong password", meta, false)
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	if p.Status != StatusActive {
		s.auditLogin(ctx, p.ID, p.Binding.TenantID, "account not active", meta, false)
		return TokenPair{}, Principal{}, ErrAccountNotActive
	}
	if err := s.checkTenant(ctx, p); err != nil {
		s.auditLogin(ctx, p.ID, p.Binding.TenantID, "tenant not active", meta, false)
		return TokenPair{}, Principal{}, err
	}

	now := s.now().UTC()
	pair, err := s.mintTokens(ctx, *p, now)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := principals.UpdateLastLogin(ctx, p.ID, now); err != nil {
		return TokenPair{}, Principal{}, err
	}
	p.LastLoginAt = &now
	s.auditLogin(ctx, p.ID, p.Binding.TenantID, "", meta, true)
	return pair, *p, nil
}

// Refresh validates the persisted refresh token and mints a new access token.
// The refresh token itself is not rotated: repeated use while unexpired keeps
// succeeding until revocation or expiry.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (string, time.Time, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return "", time.Time{}, ErrTokenInvalid
	}
	tokens := s.store.RefreshTokens(ctx)

	now := s.now().UTC()
	rec, err := tokens.TouchActive(ctx, tokenID, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, ErrTokenInvalid
		}
		return "", time.Time{}, err
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		// A presented secret that does not match the stored hash means the
		// token id leaked; kill the row.
		_ = tokens.MarkRevoked(ctx, rec.ID)
		return "", time.Time{}, ErrTokenInvalid
	}

	p, err := s.store.Principals(ctx).Find(ctx, rec.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, ErrTokenInvalid
		}
		return "", time.Time{}, err
	}
	if p.Status != StatusActive {
		return "", time.Time{}, ErrAccountNotActive
	}
	if err := s.checkTenant(ctx, p); err != nil {
		return "", time.Time{}, err
	}

	access, exp, err := s.signAccessToken(*p, now)
	if err != nil {
		return "", time.Time{}, err
	}
	s.append(ctx, &audit.Event{
		ActorID:    p.ID,
		TenantID:   p.Binding.TenantID,
		Action:     audit.ActionRefresh,
		TargetType: "refresh_token",
		TargetID:   rec.ID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return access, exp, nil
}

// Revoke marks the given refresh token revoked. Used by logout.
func (s *Service) Revoke(ctx context.Context, principalID, refreshToken string, meta ClientMeta) error {
	tokenID, _, err := splitRefreshToken(refreshToken)
	if err != nil {
		return ErrTokenInvalid
	}
	tokens := s.store.RefreshTokens(ctx)
	rec, err := tokens.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if rec.PrincipalID != principalID {
		return ErrTokenInvalid
	}
	if err := tokens.MarkRevoked(ctx, rec.ID); err != nil {
		return err
	}
	s.append(ctx, &audit.Event{
		ActorID:    principalID,
		Action:     audit.ActionLogout,
		TargetType: "refresh_token",
		TargetID:   rec.ID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// ChangePassword verifies the current password, then rehashes and revokes
// every outstanding refresh token for the principal in one atomic unit,
// forcing re-authentication everywhere.
func (s *Service) ChangePassword(ctx context.Context, principalID, current, newPassword string, meta ClientMeta) error {
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	principals := s.store.Principals(ctx)
	p, err := principals.Find(ctx, principalID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(p.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := principals.ChangePasswordCascade(ctx, p.ID, hash); err != nil {
		return err
	}
	s.append(ctx, &audit.Event{
		ActorID:    p.ID,
		TenantID:   p.Binding.TenantID,
		Action:     audit.ActionPasswordChanged,
		TargetType: "principal",
		TargetID:   p.ID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// RevokeAllForTenant suspends the tenant and revokes every refresh token of
// its principals in one atomic unit. Returns the number of revoked tokens.
func (s *Service) RevokeAllForTenant(ctx context.Context, actorID, tenantID string, status TenantStatus, meta ClientMeta) (int64, error) {
	revoked, err := s.store.Tenants(ctx).SuspendCascade(ctx, tenantID, status)
	if err != nil {
		return 0, err
	}
	s.append(ctx, &audit.Event{
		ActorID:     actorID,
		TenantID:    tenantID,
		Action:      audit.ActionTenantRevoked,
		TargetType:  "tenant",
		TargetID:    tenantID,
		Description: fmt.Sprintf("revoked %d refresh tokens", revoked),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	})
	return revoked, nil
}

// AuthenticateToken verifies an access token and returns the principal
// snapshot embedded in its claims.
func (s *Service) AuthenticateToken(ctx context.Context, raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		return Principal{}, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrTokenInvalid
	}
	if claims.Issuer != s.issuer || claims.TokenType != "access" {
		return Principal{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrTokenInvalid
	}
	binding := TenantBinding{Kind: TenantNone}
	if claims.TenantID != "" {
		binding = TenantBinding{Kind: TenantKind(claims.TenantKind), TenantID: claims.TenantID}
	}
	return Principal{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		Role:        Role(claims.Role),
		Status:      StatusActive,
		Binding:     binding,
	}, nil
}

func (s *Service) checkTenant(ctx context.Context, p *Principal) error {
	if p.Binding.PlatformScope() {
		return nil
	}
	t, err := s.store.Tenants(ctx).Find(ctx, p.Binding.TenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTenantNotActive
		}
		return err
	}
	if t.Status != TenantActive {
		return ErrTenantNotActive
	}
	return nil
}

func (s *Service) mintTokens(ctx context.Context, p Principal, now time.Time) (TokenPair, error) {
	access, accessExp, err := s.signAccessToken(p, now)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, rec, err := s.generateRefreshToken(p.ID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) signAccessToken(p Principal, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Name:      p.DisplayName,
		Role:      string(p.Role),
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if !p.Binding.PlatformScope() {
		claims.TenantKind = string(p.Binding.Kind)
		claims.TenantID = p.Binding.TenantID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) generateRefreshToken(principalID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:          tokenID,
		PrincipalID: principalID,
		TokenHash:   hex.EncodeToString(sum[:]),
		ExpiresAt:   now.Add(s.refreshTTL),
		CreatedAt:   now,
	}
	return tokenID + "." + secret, rec, nil
}

func (s *Service) auditLogin(ctx context.Context, actorID, tenantID, reason string, meta ClientMeta, success bool) {
	action := audit.ActionLoginFailed
	outcome := "failed"
	if success {
		action = audit.ActionLoginSuccess
		outcome = "success"
	}
	obs.ObserveLogin(outcome)
	s.append(ctx, &audit.Event{
		ActorID:     actorID,
		TenantID:    tenantID,
		Action:      action,
		TargetType:  "principal",
		TargetID:    actorID,
		Description: reason,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	})
}

func (s *Service) append(ctx context.Context, e *audit.Event) {
	e.OccurredAt = s.now().UTC()
	_ = s.ledger.Append(ctx, e)
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
