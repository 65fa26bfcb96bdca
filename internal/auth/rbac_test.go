package auth_test

import (
	"context"
	"errors"
	"testing"

	"nexusconsole.org/internal/auth"
	"nexusconsole.org/internal/auth/authtest"
)

type sinkRecorder struct {
	entries []*auth.AuditEntry
}

func (s *sinkRecorder) Record(_ context.Context, entry *auth.AuditEntry) {
	s.entries = append(s.entries, entry)
}

func newTestRBAC(t *testing.T) (*auth.RBACService, *authtest.Store, *sinkRecorder) {
	t.Helper()
	store := authtest.New()
	sink := &sinkRecorder{}
	svc, err := auth.NewRBACService(store, sink)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	if err := store.Permissions().Ensure(context.Background(), auth.BuiltinPermissions); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return svc, store, sink
}

func actorMeta(id int64) auth.AuditMeta {
	return auth.AuditMeta{ActorUserID: &id, RequestID: "req-1", IP: "10.0.0.1", UserAgent: "test"}
}

func TestCreateRoleAuditsWithActor(t *testing.T) {
	svc, store, sink := newTestRBAC(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, auth.RoleInput{Name: " ops ", Description: "operations"}, actorMeta(9))
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.Name != "ops" {
		t.Fatalf("name not trimmed: %q", role.Name)
	}
	if role.IsSystem {
		t.Fatal("created roles must not be system roles")
	}

	entry, ok := store.LastAudit()
	if !ok {
		t.Fatal("expected an audit entry")
	}
	if entry.Action != "rbac.role.create" || entry.TargetType != "role" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.ActorUserID == nil || *entry.ActorUserID != 9 {
		t.Fatalf("actor not recorded: %v", entry.ActorUserID)
	}
	if entry.TargetID == nil || *entry.TargetID != role.ID {
		t.Fatalf("target not recorded: %v", entry.TargetID)
	}
	if len(sink.entries) != 1 {
		t.Fatalf("sink should see exactly one entry, got %d", len(sink.entries))
	}
}

func TestCreateRoleValidatesAndConflicts(t *testing.T) {
	svc, _, sink := newTestRBAC(t)
	ctx := context.Background()

	if _, err := svc.CreateRole(ctx, auth.RoleInput{Name: "  "}, auth.AuditMeta{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateRole(ctx, auth.RoleInput{Name: "ops"}, auth.AuditMeta{}); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := svc.CreateRole(ctx, auth.RoleInput{Name: "ops"}, auth.AuditMeta{}); !errors.Is(err, auth.ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
	// failed mutations never reach the sink
	if len(sink.entries) != 1 {
		t.Fatalf("sink saw %d entries, want 1", len(sink.entries))
	}
}

func TestUpdateSystemRoleOnlyDescription(t *testing.T) {
	svc, store, _ := newTestRBAC(t)
	ctx := context.Background()

	sys, err := store.Roles().Create(ctx, auth.Role{Name: "admin", IsSystem: true, Priority: 100, ExclusiveGroup: "tier"}, nil)
	if err != nil {
		t.Fatalf("create system role: %v", err)
	}

	desc := "full access"
	updated, err := svc.UpdateRole(ctx, sys.ID, auth.RoleUpdate{Description: &desc}, auth.AuditMeta{})
	if err != nil {
		t.Fatalf("description update refused: %v", err)
	}
	if updated.Description != "full access" {
		t.Fatalf("description not applied: %q", updated.Description)
	}

	name := "renamed"
	if _, err := svc.UpdateRole(ctx, sys.ID, auth.RoleUpdate{Name: &name}, auth.AuditMeta{}); !errors.Is(err, auth.ErrSystemRoleImmutable) {
		t.Fatalf("rename should be refused: %v", err)
	}
	prio := 5
	if _, err := svc.UpdateRole(ctx, sys.ID, auth.RoleUpdate{Priority: &prio}, auth.AuditMeta{}); !errors.Is(err, auth.ErrSystemRoleImmutable) {
		t.Fatalf("priority change should be refused: %v", err)
	}
	group := "other"
	if _, err := svc.UpdateRole(ctx, sys.ID, auth.RoleUpdate{ExclusiveGroup: &group}, auth.AuditMeta{}); !errors.Is(err, auth.ErrSystemRoleImmutable) {
		t.Fatalf("group change should be refused: %v", err)
	}
}

func TestUpdateRoleEmptyPatchDoesNotAudit(t *testing.T) {
	svc, store, sink := newTestRBAC(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, auth.RoleInput{Name: "operator"}, actorMeta(1))
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	rowsBefore := store.AuditCount()
	linesBefore := len(sink.entries)

	got, err := svc.UpdateRole(ctx, role.ID, auth.RoleUpdate{}, actorMeta(1))
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if got.ID != role.ID || got.Name != "operator" {
		t.Fatalf("empty patch changed the role: %+v", got)
	}
	if store.AuditCount() != rowsBefore {
		t.Fatalf("empty patch wrote an audit row")
	}
	if len(sink.entries) != linesBefore {
		t.Fatalf("empty patch emitted an audit line")
	}
}

func TestDeleteRoleRefusals(t *testing.T) {
	svc, store, _ := newTestRBAC(t)
	ctx := context.Background()

	sys, err := store.Roles().Create(ctx, auth.Role{Name: "admin", IsSystem: true}, nil)
	if err != nil {
		t.Fatalf("create system role: %v", err)
	}
	if err := svc.DeleteRole(ctx, sys.ID, auth.AuditMeta{}); !errors.Is(err, auth.ErrSystemRoleImmutable) {
		t.Fatalf("system role delete should be refused: %v", err)
	}

	role, err := svc.CreateRole(ctx, auth.RoleInput{Name: "ops"}, auth.AuditMeta{})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	u, err := store.Users().Create(ctx, "ada@example.com", "", true, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.Users().SetRoles(ctx, u.ID, []int64{role.ID}, nil); err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID, auth.AuditMeta{}); !errors.Is(err, auth.ErrRoleInUse) {
		t.Fatalf("assigned role delete should be refused: %v", err)
	}

	if err := store.Users().SetRoles(ctx, u.ID, nil, nil); err != nil {
		t.Fatalf("clear roles: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID, auth.AuditMeta{}); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID, auth.AuditMeta{}); !errors.Is(err, auth.ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestSetRolePermissionsResolvesCodes(t *testing.T) {
	svc, _, _ := newTestRBAC(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, auth.RoleInput{Name: "reader"}, auth.AuditMeta{})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	updated, err := svc.SetRolePermissions(ctx, role.ID, []string{auth.PermUsersRead, auth.PermRBACRead, auth.PermUsersRead}, auth.AuditMeta{})
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if len(updated.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(updated.Permissions))
	}

	_, err = svc.SetRolePermissions(ctx, role.ID, []string{auth.PermUsersRead, "nope:one", "nope:two"}, auth.AuditMeta{})
	var missing *auth.MissingNamesError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingNamesError, got %v", err)
	}
	if !errors.Is(err, auth.ErrPermissionNotFound) {
		t.Fatalf("expected ErrPermissionNotFound sentinel, got %v", err)
	}
	if len(missing.Names) != 2 {
		t.Fatalf("expected both unknown codes listed, got %v", missing.Names)
	}
}

func TestSetUserRolesResolvesExclusiveGroups(t *testing.T) {
	svc, store, _ := newTestRBAC(t)
	ctx := context.Background()

	u, err := store.Users().Create(ctx, "ada@example.com", "", true, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, r := range []auth.Role{
		{Name: "admin", ExclusiveGroup: "tier", Priority: 100},
		{Name: "member", ExclusiveGroup: "tier", Priority: 10},
		{Name: "auditor"},
	} {
		if _, err := store.Roles().Create(ctx, r, nil); err != nil {
			t.Fatalf("create role %s: %v", r.Name, err)
		}
	}

	_, final, err := svc.SetUserRoles(ctx, u.ID, []string{"member", "admin", "auditor"}, actorMeta(1))
	if err != nil {
		t.Fatalf("SetUserRoles: %v", err)
	}
	got := roleNames(final)
	if len(got) != 2 {
		t.Fatalf("expected 2 roles after normalization, got %v", got)
	}
	names, err := store.Users().RoleNames(ctx, u.ID)
	if err != nil {
		t.Fatalf("RoleNames: %v", err)
	}
	if len(names) != 2 || names[0] != "admin" || names[1] != "auditor" {
		t.Fatalf("stored roles wrong: %v", names)
	}

	entry, ok := store.LastAudit()
	if !ok {
		t.Fatal("expected audit entry")
	}
	if entry.Action != "rbac.user.roles.set" {
		t.Fatalf("unexpected action: %s", entry.Action)
	}
	payload := entry.Payload
	if payload == nil {
		t.Fatal("expected payload")
	}
	after, _ := payload["after"].([]string)
	if len(after) != 2 {
		t.Fatalf("payload after wrong: %v", payload["after"])
	}
}

func TestSetUserRolesUnknownNamesFailFast(t *testing.T) {
	svc, store, sink := newTestRBAC(t)
	ctx := context.Background()

	u, err := store.Users().Create(ctx, "ada@example.com", "", true, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.Roles().Create(ctx, auth.Role{Name: "ops"}, nil); err != nil {
		t.Fatalf("create role: %v", err)
	}

	_, _, err = svc.SetUserRoles(ctx, u.ID, []string{"ops", "ghost"}, auth.AuditMeta{})
	var missing *auth.MissingNamesError
	if !errors.As(err, &missing) || !errors.Is(err, auth.ErrRoleNameNotFound) {
		t.Fatalf("expected MissingNamesError wrapping ErrRoleNameNotFound, got %v", err)
	}
	if len(missing.Names) != 1 || missing.Names[0] != "ghost" {
		t.Fatalf("unexpected missing names: %v", missing.Names)
	}
	// nothing was assigned and nothing was audited
	names, _ := store.Users().RoleNames(ctx, u.ID)
	if len(names) != 0 {
		t.Fatalf("roles assigned despite failure: %v", names)
	}
	if len(sink.entries) != 0 {
		t.Fatalf("sink saw %d entries, want 0", len(sink.entries))
	}
}

func TestSetUserRolesEmptyClears(t *testing.T) {
	svc, store, _ := newTestRBAC(t)
	ctx := context.Background()

	u, err := store.Users().Create(ctx, "ada@example.com", "", true, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	role, err := store.Roles().Create(ctx, auth.Role{Name: "ops"}, nil)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := store.Users().SetRoles(ctx, u.ID, []int64{role.ID}, nil); err != nil {
		t.Fatalf("SetRoles: %v", err)
	}

	_, final, err := svc.SetUserRoles(ctx, u.ID, nil, auth.AuditMeta{})
	if err != nil {
		t.Fatalf("SetUserRoles: %v", err)
	}
	if len(final) != 0 {
		t.Fatalf("expected cleared roles, got %v", final)
	}
	names, _ := store.Users().RoleNames(ctx, u.ID)
	if len(names) != 0 {
		t.Fatalf("roles remain: %v", names)
	}
}

func TestAuditTrailEndToEnd(t *testing.T) {
	svc, _, _ := newTestRBAC(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, auth.RoleInput{Name: "ops"}, actorMeta(1))
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := svc.SetRolePermissions(ctx, role.ID, []string{auth.PermUsersRead}, actorMeta(1)); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := svc.DeleteRole(ctx, role.ID, actorMeta(1)); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}

	entries, total, err := svc.ListAuditLogs(ctx, auth.AuditFilter{TargetType: "role"}, 0, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if total != 3 || len(entries) != 3 {
		t.Fatalf("expected 3 role audit entries, got total=%d len=%d", total, len(entries))
	}
	// newest first
	if entries[0].Action != "rbac.role.delete" {
		t.Fatalf("unexpected order: %s", entries[0].Action)
	}

	got, err := svc.GetAuditLog(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if got.Payload["name"] != "ops" {
		t.Fatalf("delete payload missing role name: %v", got.Payload)
	}
	if _, err := svc.GetAuditLog(ctx, 99999); !errors.Is(err, auth.ErrAuditLogNotFound) {
		t.Fatalf("expected ErrAuditLogNotFound, got %v", err)
	}
}
