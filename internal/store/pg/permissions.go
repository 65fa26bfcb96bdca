package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"nexusconsole.org/internal/auth"
)

type permissionStore struct {
	db *sql.DB
}

const permissionColumns = `id, code, coalesce(description, ''), created_at`

func scanPermission(row interface{ Scan(...any) error }) (auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(&p.ID, &p.Code, &p.Description, &p.CreatedAt)
	return p, err
}

func (s *permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `select `+permissionColumns+` from permissions order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *permissionStore) GetByCodes(ctx context.Context, codes []string) ([]auth.Permission, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(codes))
	args := make([]any, len(codes))
	for i, code := range codes {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = code
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select %s from permissions where code in (%s) order by code`,
		permissionColumns, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// CodesForUser returns the distinct permission codes reachable through the
// user's roles.
func (s *permissionStore) CodesForUser(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.code
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by p.code
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Ensure upserts the given permissions by code, filling descriptions only
// when absent. Safe to call on every startup.
func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (code, description)
			values ($1, $2)
			on conflict (code) do update
			set description = coalesce(nullif(permissions.description, ''), excluded.description)
		`, p.Code, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return nil
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	var perms []auth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
