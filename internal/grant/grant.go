// Package grant mints short-lived, single-use viewing sessions for active
// content units and records every issued grant in an immutable access log.
package grant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"edvault.org/internal/audit"
	"edvault.org/internal/auth"
	"edvault.org/internal/content"
	"edvault.org/internal/obs"
)

var (
	// ErrContentUnavailable covers both a missing unit and a unit that is not
	// releasable; the caller cannot tell which.
	ErrContentUnavailable = errors.New("grant: content unavailable")
	ErrTokenInvalid       = errors.New("grant: token invalid")
)

// Watermark is embedded into the viewing session and rendered over the
// content client-side.
type Watermark struct {
	PrincipalName string    `json:"principal_name"`
	TenantName    string    `json:"tenant_name"`
	IssuedAt      time.Time `json:"issued_at"`
	GrantID       string    `json:"grant_id"`
}

// Grant is one immutable access-log row. Never updated after creation.
type Grant struct {
	ID          string
	PrincipalID string
	UnitID      string
	TenantID    string
	TenantName  string
	Device      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Watermark   Watermark
	IP          string
	UserAgent   string
}

// Store persists grants. Insert-only.
type Store interface {
	Create(ctx context.Context, g *Grant) error
}

// ContentDescriptor is the unit projection safe to hand to clients.
type ContentDescriptor struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

// Result is the issued viewing session.
type Result struct {
	AccessToken string            `json:"access_token"`
	SessionID   string            `json:"session_id"`
	ExpiresIn   int               `json:"expires_in"`
	Content     ContentDescriptor `json:"content"`
	Watermark   *Watermark        `json:"watermark,omitempty"`
}

// ViewClaims are the self-contained viewing token claims.
type ViewClaims struct {
	UnitID    string `json:"unit_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	Role      string `json:"role"`
	Device    string `json:"device,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TenantDirectory resolves tenant display names for watermarks.
type TenantDirectory interface {
	Find(ctx context.Context, id string) (*auth.Tenant, error)
}

// Issuer mints viewing sessions. Tenant isolation must already have passed
// for the request before Issue is called.
type Issuer struct {
	store   Store
	units   *content.Service
	tenants TenantDirectory
	ledger  audit.Ledger
	now     func() time.Time

	secret []byte
	issuer string
}

// Option configures the Issuer.
type Option func(*Issuer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(name string) Option {
	return func(i *Issuer) {
		if v := strings.TrimSpace(name); v != "" {
			i.issuer = v
		}
	}
}

func NewIssuer(store Store, units *content.Service, tenants TenantDirectory, ledger audit.Ledger, secret string, opts ...Option) (*Issuer, error) {
	if store == nil || units == nil || ledger == nil {
		return nil, errors.New("grant: store, content service and ledger are required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("grant: signing secret is required")
	}
	iss := &Issuer{
		store:   store,
		units:   units,
		tenants: tenants,
		ledger:  ledger,
		now:     time.Now,
		secret:  []byte(secret),
		issuer:  "edvault",
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// Issue mints one viewing session for an active content unit. The session id
// is cryptographically random; no two grants share one.
func (i *Issuer) Issue(ctx context.Context, p auth.Principal, unitID, device string, meta auth.ClientMeta) (Result, error) {
	u, err := i.units.Find(ctx, unitID)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return Result{}, ErrContentUnavailable
		}
		return Result{}, err
	}
	if u.Status != content.UnitActive {
		return Result{}, ErrContentUnavailable
	}

	now := i.now().UTC()
	sessionID := uuid.NewString()
	ttl := time.Duration(u.SessionExpiryMinutes) * time.Minute
	expiresAt := now.Add(ttl)

	tenantName := i.tenantName(ctx, p)
	wm := Watermark{
		PrincipalName: p.DisplayName,
		TenantName:    tenantName,
		IssuedAt:      now,
		GrantID:       sessionID,
	}

	claims := ViewClaims{
		UnitID:    u.ID,
		TenantID:  p.Binding.TenantID,
		Role:      string(p.Role),
		Device:    device,
		TokenType: "view",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        sessionID,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Result{}, err
	}

	g := &Grant{
		ID:          sessionID,
		PrincipalID: p.ID,
		UnitID:      u.ID,
		TenantID:    p.Binding.TenantID,
		TenantName:  tenantName,
		Device:      device,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
		Watermark:   wm,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	}
	if err := i.store.Create(ctx, g); err != nil {
		return Result{}, err
	}

	obs.ObserveGrantIssued()
	_ = i.ledger.Append(ctx, &audit.Event{
		OccurredAt:  now,
		ActorID:     p.ID,
		TenantID:    p.Binding.TenantID,
		Action:      audit.ActionGrantIssued,
		TargetType:  "content_unit",
		TargetID:    u.ID,
		Description: "session " + sessionID,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	})

	res := Result{
		AccessToken: token,
		SessionID:   sessionID,
		ExpiresIn:   u.SessionExpiryMinutes * 60,
		Content:     ContentDescriptor{ID: u.ID, Title: u.Title, Kind: u.Kind},
	}
	if u.WatermarkEnabled {
		res.Watermark = &wm
	}
	return res, nil
}

// Verify checks a viewing token signature and expiry. Expiry is the only
// cancellation mechanism for a grant.
func (i *Issuer) Verify(raw string) (*ViewClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &ViewClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*ViewClaims)
	if !ok || !parsed.Valid || claims.TokenType != "view" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (i *Issuer) tenantName(ctx context.Context, p auth.Principal) string {
	if p.Binding.PlatformScope() || i.tenants == nil {
		return "platform"
	}
	t, err := i.tenants.Find(ctx, p.Binding.TenantID)
	if err != nil {
		return p.Binding.TenantID
	}
	return t.Name
}
