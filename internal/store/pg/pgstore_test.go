package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"nexusconsole.org/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func userRows(id int64, email string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "email", "name", "is_active", "created_at", "updated_at"}).
		AddRow(id, email, "Ada", true, now, now)
}

func auditResultRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now().UTC())
}

func TestUserCreateInsertsAuditRowInSameTx(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WithArgs("ada@example.com", sqlmock.AnyArg(), true).
		WillReturnRows(userRows(7, "ada@example.com"))
	mock.ExpectQuery("insert into audit_logs").
		WithArgs(sqlmock.AnyArg(), "users.user.create", "user", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(auditResultRows())
	mock.ExpectCommit()

	actor := int64(1)
	entry := &auth.AuditEntry{
		ActorUserID: &actor,
		Action:      "users.user.create",
		TargetType:  "user",
		Payload:     map[string]any{"email": "ada@example.com"},
	}
	u, err := store.Users().Create(context.Background(), "ada@example.com", "Ada", true, entry)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID != 7 {
		t.Fatalf("unexpected id: %d", u.ID)
	}
	if entry.TargetID == nil || *entry.TargetID != 7 {
		t.Fatalf("expected entry target to be filled with the new id, got %v", entry.TargetID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserCreateDuplicateEmailRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WithArgs("ada@example.com", sqlmock.AnyArg(), true).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	_, err := store.Users().Create(context.Background(), "ada@example.com", "", true, &auth.AuditEntry{Action: "users.user.create", TargetType: "user"})
	if !errors.Is(err, auth.ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserUpdateFailedAuditAborts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update users set").
		WillReturnRows(userRows(7, "ada@example.com"))
	mock.ExpectQuery("insert into audit_logs").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	name := "Ada L."
	_, err := store.Users().Update(context.Background(), 7, auth.UserUpdate{Name: &name},
		&auth.AuditEntry{Action: "users.user.update", TargetType: "user"})
	if err == nil {
		t.Fatal("expected the mutation to fail when the audit row cannot be written")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserUpdateEmptyPatchReadsWithoutTx(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from users where id").
		WithArgs(int64(7)).
		WillReturnRows(userRows(7, "ada@example.com"))

	u, err := store.Users().Update(context.Background(), 7, auth.UserUpdate{},
		&auth.AuditEntry{Action: "users.user.update", TargetType: "user"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.ID != 7 {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select .* from users where id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "is_active", "created_at", "updated_at"}))

	_, err := store.Users().Get(context.Background(), 99)
	if !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserListFiltersAndTotal(t *testing.T) {
	store, mock := newMockStore(t)

	active := true
	mock.ExpectQuery(`select count\(\*\) from users where email ilike \$1 and is_active = \$2`).
		WithArgs("%ada%", true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`select .* from users where email ilike \$1 and is_active = \$2 order by created_at desc, id desc limit \$3 offset \$4`).
		WithArgs("%ada%", true, 2, 1).
		WillReturnRows(userRows(7, "ada@example.com"))

	users, total, err := store.Users().List(context.Background(), auth.UserFilter{Email: "ada", IsActive: &active}, 1, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(users) != 1 {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(users))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetRolesReplacesAssignments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("delete from user_roles").WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into user_roles").WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("insert into audit_logs").WillReturnRows(auditResultRows())
	mock.ExpectCommit()

	err := store.Users().SetRoles(context.Background(), 7, []int64{3},
		&auth.AuditEntry{Action: "rbac.user.roles.set", TargetType: "user"})
	if err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleDeleteInUse(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select exists").WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := store.Roles().Delete(context.Background(), 3, &auth.AuditEntry{Action: "rbac.role.delete", TargetType: "role"})
	if !errors.Is(err, auth.ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBumpTokenVersionReturnsNewValue(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update auth_identities").WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"token_version"}).AddRow(4))

	version, err := store.Identities().BumpTokenVersion(context.Background(), 11)
	if err != nil {
		t.Fatalf("BumpTokenVersion: %v", err)
	}
	if version != 4 {
		t.Fatalf("unexpected version: %d", version)
	}
}

func TestRegisterPasswordCreatesUserIdentityAndAudit(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WithArgs("ada@example.com", sqlmock.AnyArg()).
		WillReturnRows(userRows(7, "ada@example.com"))
	mock.ExpectQuery("insert into auth_identities").
		WithArgs(int64(7), auth.ProviderPassword, "ada@example.com", "hash").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "provider", "identifier", "password_hash",
			"token_version", "last_login_at", "created_at", "updated_at",
		}).AddRow(int64(11), int64(7), auth.ProviderPassword, "ada@example.com", "hash", 0, nil, now, now))
	mock.ExpectQuery("insert into audit_logs").WillReturnRows(auditResultRows())
	mock.ExpectCommit()

	u, ident, err := store.Identities().RegisterPassword(context.Background(), "ada@example.com", "Ada", "hash")
	if err != nil {
		t.Fatalf("RegisterPassword: %v", err)
	}
	if u.ID != 7 || ident.UserID != 7 || ident.TokenVersion != 0 {
		t.Fatalf("unexpected result: user=%+v identity=%+v", u, ident)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditListFiltersByAction(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`select count\(\*\) from audit_logs where action = \$1`).
		WithArgs("rbac.role.create").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`select .* from audit_logs where action = \$1 order by created_at desc, id desc`).
		WithArgs("rbac.role.create", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "actor_user_id", "action", "target_type", "target_id",
			"payload", "request_id", "ip", "user_agent", "created_at",
		}).AddRow(int64(1), int64(2), "rbac.role.create", "role", int64(3), []byte(`{"name":"ops"}`), "req-1", "10.0.0.1", "curl", now))

	entries, total, err := store.Audit().List(context.Background(), auth.AuditFilter{Action: "rbac.role.create"}, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(entries) != 1 {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(entries))
	}
	if entries[0].Payload["name"] != "ops" {
		t.Fatalf("payload not decoded: %v", entries[0].Payload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
