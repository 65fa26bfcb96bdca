package auth

import (
	"errors"
	"fmt"
)

// Base sentinels. Specific errors below wrap one of these so callers can
// match either the broad class or the exact condition with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
	ErrIntegrity    = errors.New("integrity constraint violated")
)

var (
	ErrEmailExists         = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrRoleExists          = fmt.Errorf("%w: role name already exists", ErrConflict)
	ErrRoleInUse           = fmt.Errorf("%w: role is assigned to users", ErrConflict)
	ErrSystemRoleImmutable = fmt.Errorf("%w: system roles cannot be modified or deleted", ErrConflict)

	ErrUserNotFound       = fmt.Errorf("%w: user", ErrNotFound)
	ErrIdentityNotFound   = fmt.Errorf("%w: auth identity", ErrNotFound)
	ErrRoleNotFound       = fmt.Errorf("%w: role", ErrNotFound)
	ErrAuditLogNotFound   = fmt.Errorf("%w: audit log", ErrNotFound)
	ErrRoleNameNotFound   = fmt.Errorf("%w: role name", ErrNotFound)
	ErrPermissionNotFound = fmt.Errorf("%w: permission code", ErrNotFound)
)

// Authentication and authorization failures. Token validation deliberately
// collapses every distinguishable cause into ErrInvalidToken so responses
// never leak which check failed.
var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidPassword    = errors.New("current password is incorrect")
	ErrInactiveUser       = errors.New("user account is inactive")
	ErrPermissionDenied   = errors.New("permission denied")
)

// MissingNamesError reports which requested names could not be resolved.
// It wraps the given sentinel (ErrRoleNameNotFound or ErrPermissionNotFound).
type MissingNamesError struct {
	Sentinel error
	Names    []string
}

func (e *MissingNamesError) Error() string {
	return fmt.Sprintf("%v: %v", e.Sentinel, e.Names)
}

func (e *MissingNamesError) Unwrap() error { return e.Sentinel }
