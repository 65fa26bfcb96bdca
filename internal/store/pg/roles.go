package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nexusconsole.org/internal/auth"
)

type roleStore struct {
	db *sql.DB
}

const roleColumns = `id, name, coalesce(description, ''), coalesce(exclusive_group, ''), priority, is_system, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.ExclusiveGroup,
		&r.Priority, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *roleStore) Create(ctx context.Context, role auth.Role, entry *auth.AuditEntry) (auth.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		insert into roles (name, description, exclusive_group, priority, is_system)
		values ($1, $2, $3, $4, $5)
		returning `+roleColumns+`
	`, role.Name, nullIfEmpty(role.Description), nullIfEmpty(role.ExclusiveGroup), role.Priority, role.IsSystem)
	created, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Role{}, auth.ErrRoleExists
		}
		return auth.Role{}, err
	}
	if entry != nil {
		entry.TargetID = &created.ID
		if err := appendAudit(ctx, tx, entry); err != nil {
			return auth.Role{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	return created, nil
}

func (s *roleStore) Get(ctx context.Context, id int64) (auth.Role, error) {
	row := s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrRoleNotFound
	}
	return r, err
}

// GetByNames returns the roles matching the given names, in name order.
// Missing names are the caller's concern; no error is raised here.
func (s *roleStore) GetByNames(ctx context.Context, names []string) ([]auth.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = name
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select %s from roles where name in (%s) order by name`,
		roleColumns, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

func (s *roleStore) List(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

func (s *roleStore) Update(ctx context.Context, id int64, upd auth.RoleUpdate, entry *auth.AuditEntry) (auth.Role, error) {
	set := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if upd.Name != nil {
		args = append(args, *upd.Name)
		set = append(set, fmt.Sprintf("name = $%d", len(args)))
	}
	if upd.Description != nil {
		args = append(args, nullIfEmpty(*upd.Description))
		set = append(set, fmt.Sprintf("description = $%d", len(args)))
	}
	if upd.ExclusiveGroup != nil {
		args = append(args, nullIfEmpty(*upd.ExclusiveGroup))
		set = append(set, fmt.Sprintf("exclusive_group = $%d", len(args)))
	}
	if upd.Priority != nil {
		args = append(args, *upd.Priority)
		set = append(set, fmt.Sprintf("priority = $%d", len(args)))
	}
	if len(set) == 0 {
		return s.Get(ctx, id)
	}
	set = append(set, "updated_at = now()")
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`update roles set %s where id = $%d returning %s`,
		strings.Join(set, ", "), len(args), roleColumns)
	r, err := scanRole(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Role{}, auth.ErrRoleNotFound
		}
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.Role{}, auth.ErrRoleExists
		}
		return auth.Role{}, err
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return auth.Role{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	return r, nil
}

// Delete removes the role unless any user still holds it. The explicit
// in-use check yields a clean error; the FK restrict on user_roles is the
// backstop against a concurrent assignment.
func (s *roleStore) Delete(ctx context.Context, id int64, entry *auth.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var inUse bool
	if err := tx.QueryRowContext(ctx, `
		select exists (select 1 from user_roles where role_id = $1)
	`, id).Scan(&inUse); err != nil {
		return err
	}
	if inUse {
		return auth.ErrRoleInUse
	}

	res, err := tx.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrRoleInUse
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrRoleNotFound
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// SetPermissions replaces the role's permission links atomically.
func (s *roleStore) SetPermissions(ctx context.Context, roleID int64, permissionIDs []int64, entry *auth.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists (select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return auth.ErrRoleNotFound
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.ErrPermissionNotFound
			}
			return err
		}
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *roleStore) PermissionsForRole(ctx context.Context, roleID int64) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.code, coalesce(p.description, ''), p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.code
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *roleStore) RolesForUser(ctx context.Context, userID int64) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, coalesce(r.description, ''), coalesce(r.exclusive_group, ''), r.priority, r.is_system, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	var roles []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}
