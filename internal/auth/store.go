package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth and RBAC services
// require. Mutating methods that take an *AuditEntry must insert the entry
// inside the same transaction as the business change, so both commit or
// roll back together. They never partially apply.
type Store interface {
	Users() UserStore
	Identities() IdentityStore
	Roles() RoleStore
	Permissions() PermissionStore
	Audit() AuditStore
}

// UserStore manages user records.
type UserStore interface {
	Create(ctx context.Context, email, name string, active bool, entry *AuditEntry) (User, error)
	Get(ctx context.Context, id int64) (User, error)
	List(ctx context.Context, filter UserFilter, skip, limit int) ([]User, int, error)
	Update(ctx context.Context, id int64, upd UserUpdate, entry *AuditEntry) (User, error)
	Delete(ctx context.Context, id int64, entry *AuditEntry) error

	// SetRoles replaces the user's role set in one transaction.
	SetRoles(ctx context.Context, userID int64, roleIDs []int64, entry *AuditEntry) error
	RoleNames(ctx context.Context, userID int64) ([]string, error)
}

// IdentityStore manages credential records and the token-version counter.
type IdentityStore interface {
	// RegisterPassword creates the user and its password identity atomically.
	RegisterPassword(ctx context.Context, email, name, passwordHash string) (User, AuthIdentity, error)
	FindPassword(ctx context.Context, email string) (AuthIdentity, error)
	FindPasswordByUser(ctx context.Context, userID int64) (AuthIdentity, error)
	TouchLogin(ctx context.Context, identityID int64, at time.Time) error

	// BumpTokenVersion increments the revocation counter and returns the new
	// value. The increment is a single atomic statement.
	BumpTokenVersion(ctx context.Context, identityID int64) (int, error)

	// UpdatePassword replaces the hash and increments the token version in
	// one transaction, returning the new version.
	UpdatePassword(ctx context.Context, identityID int64, passwordHash string) (int, error)
}

// RoleStore manages roles and their permission links.
type RoleStore interface {
	Create(ctx context.Context, role Role, entry *AuditEntry) (Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	GetByNames(ctx context.Context, names []string) ([]Role, error)
	List(ctx context.Context) ([]Role, error)
	Update(ctx context.Context, id int64, upd RoleUpdate, entry *AuditEntry) (Role, error)

	// Delete refuses with ErrRoleInUse while any assignment references the role.
	Delete(ctx context.Context, id int64, entry *AuditEntry) error

	SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64, entry *AuditEntry) error
	PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)
	RolesForUser(ctx context.Context, userID int64) ([]Role, error)
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	List(ctx context.Context) ([]Permission, error)
	GetByCodes(ctx context.Context, codes []string) ([]Permission, error)
	CodesForUser(ctx context.Context, userID int64) ([]string, error)
	Ensure(ctx context.Context, perms []Permission) error
}

// AuditStore reads the append-only audit log. Writes ride the mutating
// methods above; Append exists for actions with no other database change.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	Get(ctx context.Context, id int64) (AuditEntry, error)
	List(ctx context.Context, filter AuditFilter, skip, limit int) ([]AuditEntry, int, error)
}
