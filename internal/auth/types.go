package auth

import "time"

// Role is the fixed set of principal roles.
type Role string

const (
	RoleOwner          Role = "owner"
	RolePublisherAdmin Role = "publisher_admin"
	RoleCollegeAdmin   Role = "college_admin"
	RoleFaculty        Role = "faculty"
	RoleStudent        Role = "student"
)

// Status is a principal account status.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// TenantKind classifies the tenant a principal is bound to.
type TenantKind string

const (
	TenantCollege   TenantKind = "college"
	TenantPublisher TenantKind = "publisher"
	TenantNone      TenantKind = "none"
)

// TenantStatus is the lifecycle status of a tenant record.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantExpired   TenantStatus = "expired"
)

// TenantBinding ties a principal to at most one tenant.
type TenantBinding struct {
	Kind     TenantKind `json:"kind"`
	TenantID string     `json:"tenant_id,omitempty"`
}

// PlatformScope reports whether the binding grants platform-wide visibility
// (no tenant attached).
func (b TenantBinding) PlatformScope() bool {
	return b.Kind == TenantNone || b.Kind == "" || b.TenantID == ""
}

// Principal is an identity record. Rows are soft-disabled, never physically
// deleted while referenced by audit history.
type Principal struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	DisplayName  string        `json:"display_name"`
	PasswordHash string        `json:"-"`
	Role         Role          `json:"role"`
	Status       Status        `json:"status"`
	Binding      TenantBinding `json:"binding"`
	LastLoginAt  *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Tenant is a college or publisher, the unit of data isolation.
type Tenant struct {
	ID                string       `json:"id"`
	Kind              TenantKind   `json:"kind"`
	Name              string       `json:"name"`
	Status            TenantStatus `json:"status"`
	ContractExpiresAt *time.Time   `json:"contract_expires_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// RefreshToken is the persisted half of a credential pair. The wire format is
// "id.secret"; only the sha256 of the secret is stored.
type RefreshToken struct {
	ID          string
	PrincipalID string
	TokenHash   string
	ExpiresAt   time.Time
	Revoked     bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// ClientMeta carries network metadata attached to audit rows and grants.
type ClientMeta struct {
	IP        string
	UserAgent string
}
