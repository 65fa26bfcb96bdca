package auth

import "time"

// ProviderPassword is the only credential provider this service issues
// itself; the identity table is shaped to admit OAuth providers later.
const ProviderPassword = "password"

// User is an identity record. Credentials live in AuthIdentity.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthIdentity is one (provider, identifier) credential record bound to a
// user. TokenVersion is a revocation counter: a token is only valid while
// its embedded version equals the live value.
type AuthIdentity struct {
	ID           int64
	UserID       int64
	Provider     string
	Identifier   string
	PasswordHash string
	TokenVersion int
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role groups permissions. Roles sharing a non-empty ExclusiveGroup are
// mutually exclusive per user; Priority breaks conflicts. System roles are
// immutable.
type Role struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	ExclusiveGroup string       `json:"exclusive_group,omitempty"`
	Priority       int          `json:"priority"`
	IsSystem       bool         `json:"is_system"`
	Permissions    []Permission `json:"permissions,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Permission is an atomic capability identified by its code.
type Permission struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEntry is one immutable record of a mutating administrative action.
type AuditEntry struct {
	ID          int64          `json:"id"`
	ActorUserID *int64         `json:"actor_user_id"`
	Action      string         `json:"action"`
	TargetType  string         `json:"target_type"`
	TargetID    *int64         `json:"target_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	IP          string         `json:"ip,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// UserUpdate carries optional fields for a partial user update.
type UserUpdate struct {
	Email    *string
	Name     *string
	IsActive *bool
}

// RoleUpdate carries optional fields for a partial role update.
type RoleUpdate struct {
	Name           *string
	Description    *string
	ExclusiveGroup *string
	Priority       *int
}

// UserFilter narrows user listings. Text matches are case-insensitive
// substrings; IsActive is an equality match when set.
type UserFilter struct {
	Email    string
	Name     string
	IsActive *bool
}

// AuditFilter narrows audit log listings with equality matches.
type AuditFilter struct {
	ActorUserID *int64
	Action      string
	TargetType  string
	TargetID    *int64
	RequestID   string
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Principal is an authenticated user with resolved permission codes.
type Principal struct {
	User        User
	Permissions map[string]struct{}
}

// HasPermission reports whether the principal holds the permission code.
func (p Principal) HasPermission(code string) bool {
	_, ok := p.Permissions[code]
	return ok
}

// Builtin permission codes enforced by the API surface.
const (
	PermUsersRead  = "users:read"
	PermUsersWrite = "users:write"
	PermRBACRead   = "rbac:read"
	PermRBACWrite  = "rbac:write"
)

// BuiltinPermissions are ensured at startup and by seed migrations.
var BuiltinPermissions = []Permission{
	{Code: PermUsersRead, Description: "Read user records"},
	{Code: PermUsersWrite, Description: "Create, update and delete users"},
	{Code: PermRBACRead, Description: "Read roles, permissions and audit logs"},
	{Code: PermRBACWrite, Description: "Manage roles and assignments"},
}
