package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// AuditMeta carries the request context attached to every audit entry.
type AuditMeta struct {
	ActorUserID *int64
	RequestID   string
	IP          string
	UserAgent   string
}

func (m AuditMeta) entry(action, targetType string, targetID *int64, payload map[string]any) *AuditEntry {
	return &AuditEntry{
		ActorUserID: m.ActorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Payload:     payload,
		RequestID:   m.RequestID,
		IP:          m.IP,
		UserAgent:   m.UserAgent,
	}
}

// AuditSink receives the entry of a committed mutation for structured
// logging. The database row itself is written transactionally by the store.
type AuditSink interface {
	Record(ctx context.Context, entry *AuditEntry)
}

// RoleInput is the payload for creating a role.
type RoleInput struct {
	Name           string
	Description    string
	ExclusiveGroup string
	Priority       int
}

// RBACService manages roles, permission sets, role assignments and audit
// log queries. Every mutation writes exactly one audit entry atomically
// with the change.
type RBACService struct {
	store Store
	sink  AuditSink
}

// NewRBACService constructs the RBAC service. sink may be nil.
func NewRBACService(store Store, sink AuditSink) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("auth: rbac store is required")
	}
	return &RBACService{store: store, sink: sink}, nil
}

func (s *RBACService) record(ctx context.Context, entry *AuditEntry) {
	if s.sink != nil {
		s.sink.Record(ctx, entry)
	}
}

// ListRoles returns all roles ordered by id, permissions populated.
func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.store.Roles().List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := s.store.Roles().PermissionsForRole(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// GetRole returns one role with its permissions.
func (s *RBACService) GetRole(ctx context.Context, roleID int64) (Role, error) {
	role, err := s.store.Roles().Get(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	perms, err := s.store.Roles().PermissionsForRole(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

// CreateRole creates a non-system role and audits the creation.
func (s *RBACService) CreateRole(ctx context.Context, input RoleInput, meta AuditMeta) (Role, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := Role{
		Name:           input.Name,
		Description:    strings.TrimSpace(input.Description),
		ExclusiveGroup: strings.TrimSpace(input.ExclusiveGroup),
		Priority:       input.Priority,
		IsSystem:       false,
	}
	entry := meta.entry("rbac.role.create", "role", nil, map[string]any{
		"name":            role.Name,
		"description":     role.Description,
		"exclusive_group": role.ExclusiveGroup,
		"priority":        role.Priority,
	})
	created, err := s.store.Roles().Create(ctx, role, entry)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, entry)
	return created, nil
}

// UpdateRole applies a partial update. System roles accept only a
// description change; rename, regroup and reprioritize are refused.
func (s *RBACService) UpdateRole(ctx context.Context, roleID int64, upd RoleUpdate, meta AuditMeta) (Role, error) {
	role, err := s.store.Roles().Get(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if role.IsSystem && name != role.Name {
			return Role{}, ErrSystemRoleImmutable
		}
		upd.Name = &name
	}
	if role.IsSystem && (upd.Priority != nil && *upd.Priority != role.Priority ||
		upd.ExclusiveGroup != nil && strings.TrimSpace(*upd.ExclusiveGroup) != role.ExclusiveGroup) {
		return Role{}, ErrSystemRoleImmutable
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.ExclusiveGroup != nil {
		group := strings.TrimSpace(*upd.ExclusiveGroup)
		upd.ExclusiveGroup = &group
	}
	if upd.Name == nil && upd.Description == nil && upd.ExclusiveGroup == nil && upd.Priority == nil {
		// Nothing to change: a no-op patch reads, it does not audit.
		return role, nil
	}

	entry := meta.entry("rbac.role.update", "role", &roleID, rolePatchPayload(role, upd))
	updated, err := s.store.Roles().Update(ctx, roleID, upd, entry)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, entry)
	return updated, nil
}

// DeleteRole removes a role. System roles and roles still assigned to any
// user are refused with a conflict.
func (s *RBACService) DeleteRole(ctx context.Context, roleID int64, meta AuditMeta) error {
	role, err := s.store.Roles().Get(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}
	entry := meta.entry("rbac.role.delete", "role", &roleID, map[string]any{"name": role.Name})
	if err := s.store.Roles().Delete(ctx, roleID, entry); err != nil {
		return err
	}
	s.record(ctx, entry)
	return nil
}

// ListPermissions returns the permission catalog ordered by id.
func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.Permissions().List(ctx)
}

// SetRolePermissions replaces a role's permission set. Unknown codes fail
// the whole call, listing every unresolved code.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID int64, codes []string, meta AuditMeta) (Role, error) {
	role, err := s.store.Roles().Get(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	before, err := s.store.Roles().PermissionsForRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}

	codes = DedupeNames(codes)
	perms, err := s.resolvePermissions(ctx, codes)
	if err != nil {
		return Role{}, err
	}
	permIDs := make([]int64, len(perms))
	for i, p := range perms {
		permIDs[i] = p.ID
	}

	entry := meta.entry("rbac.role.permissions.set", "role", &roleID, map[string]any{
		"before": sortedCodes(before),
		"after":  sortedCodes(perms),
	})
	if err := s.store.Roles().SetPermissions(ctx, roleID, permIDs, entry); err != nil {
		return Role{}, err
	}
	s.record(ctx, entry)

	role.Permissions = perms
	return role, nil
}

// SetUserRoles replaces a user's role set after resolving exclusive-group
// conflicts. Empty input clears all roles. Unresolved names fail the whole
// call with every missing name listed.
func (s *RBACService) SetUserRoles(ctx context.Context, userID int64, names []string, meta AuditMeta) (User, []Role, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return User{}, nil, err
	}
	before, err := s.store.Users().RoleNames(ctx, userID)
	if err != nil {
		return User{}, nil, err
	}

	requested := DedupeNames(names)
	var final []Role
	if len(requested) > 0 {
		roles, err := s.store.Roles().GetByNames(ctx, requested)
		if err != nil {
			return User{}, nil, err
		}
		found := make(map[string]struct{}, len(roles))
		for _, r := range roles {
			found[r.Name] = struct{}{}
		}
		var missing []string
		for _, n := range requested {
			if _, ok := found[n]; !ok {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			return User{}, nil, &MissingNamesError{Sentinel: ErrRoleNameNotFound, Names: missing}
		}
		final = NormalizeExclusive(roles)
	}

	roleIDs := make([]int64, len(final))
	after := make([]string, len(final))
	for i, r := range final {
		roleIDs[i] = r.ID
		after[i] = r.Name
	}
	sort.Strings(after)
	if requested == nil {
		requested = []string{}
	}

	entry := meta.entry("rbac.user.roles.set", "user", &userID, map[string]any{
		"before":    sortedNames(before),
		"requested": requested,
		"after":     after,
	})
	if err := s.store.Users().SetRoles(ctx, userID, roleIDs, entry); err != nil {
		return User{}, nil, err
	}
	s.record(ctx, entry)
	return user, final, nil
}

// RolesForUser returns the user's assigned roles ordered by name.
func (s *RBACService) RolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	return s.store.Roles().RolesForUser(ctx, userID)
}

// ListAuditLogs pages through audit entries matching the filter.
func (s *RBACService) ListAuditLogs(ctx context.Context, filter AuditFilter, skip, limit int) ([]AuditEntry, int, error) {
	return s.store.Audit().List(ctx, filter, skip, limit)
}

// GetAuditLog returns one audit entry.
func (s *RBACService) GetAuditLog(ctx context.Context, id int64) (AuditEntry, error) {
	return s.store.Audit().Get(ctx, id)
}

func (s *RBACService) resolvePermissions(ctx context.Context, codes []string) ([]Permission, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	perms, err := s.store.Permissions().GetByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		found[p.Code] = struct{}{}
	}
	var missing []string
	for _, c := range codes {
		if _, ok := found[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingNamesError{Sentinel: ErrPermissionNotFound, Names: missing}
	}
	return perms, nil
}

func rolePatchPayload(current Role, upd RoleUpdate) map[string]any {
	payload := map[string]any{
		"name":            current.Name,
		"description":     current.Description,
		"exclusive_group": current.ExclusiveGroup,
		"priority":        current.Priority,
	}
	if upd.Name != nil {
		payload["name"] = *upd.Name
	}
	if upd.Description != nil {
		payload["description"] = *upd.Description
	}
	if upd.ExclusiveGroup != nil {
		payload["exclusive_group"] = *upd.ExclusiveGroup
	}
	if upd.Priority != nil {
		payload["priority"] = *upd.Priority
	}
	return payload
}

func sortedCodes(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.Code
	}
	sort.Strings(out)
	return out
}

func sortedNames(names []string) []string {
	out := append([]string{}, names...)
	sort.Strings(out)
	return out
}
