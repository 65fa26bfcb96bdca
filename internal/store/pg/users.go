package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nexusconsole.org/internal/auth"
)

type userStore struct {
	db *sql.DB
}

const userColumns = `id, email, coalesce(name, ''), is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *userStore) Create(ctx context.Context, email, name string, isActive bool, entry *auth.AuditEntry) (auth.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		insert into users (email, name, is_active)
		values ($1, $2, $3)
		returning `+userColumns+`
	`, email, nullIfEmpty(name), isActive)
	u, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrEmailExists
		}
		return auth.User{}, err
	}
	if entry != nil {
		entry.TargetID = &u.ID
		if err := appendAudit(ctx, tx, entry); err != nil {
			return auth.User{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *userStore) Get(ctx context.Context, id int64) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, err
}

func (s *userStore) List(ctx context.Context, filter auth.UserFilter, skip, limit int) ([]auth.User, int, error) {
	skip, limit = clampPage(skip, limit)

	where := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if f := strings.TrimSpace(filter.Email); f != "" {
		args = append(args, "%"+f+"%")
		where = append(where, fmt.Sprintf("email ilike $%d", len(args)))
	}
	if f := strings.TrimSpace(filter.Name); f != "" {
		args = append(args, "%"+f+"%")
		where = append(where, fmt.Sprintf("name ilike $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, skip)
	query := fmt.Sprintf(`select %s from users%s order by created_at desc, id desc limit $%d offset $%d`,
		userColumns, cond, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]auth.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *userStore) Update(ctx context.Context, id int64, upd auth.UserUpdate, entry *auth.AuditEntry) (auth.User, error) {
	set := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if upd.Email != nil {
		args = append(args, *upd.Email)
		set = append(set, fmt.Sprintf("email = $%d", len(args)))
	}
	if upd.Name != nil {
		args = append(args, nullIfEmpty(*upd.Name))
		set = append(set, fmt.Sprintf("name = $%d", len(args)))
	}
	if upd.IsActive != nil {
		args = append(args, *upd.IsActive)
		set = append(set, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if len(set) == 0 {
		return s.Get(ctx, id)
	}
	set = append(set, "updated_at = now()")
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`,
		strings.Join(set, ", "), len(args), userColumns)
	u, err := scanUser(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrEmailExists
		}
		return auth.User{}, err
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return auth.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *userStore) Delete(ctx context.Context, id int64, entry *auth.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// SetRoles replaces the user's role assignments atomically.
func (s *userStore) SetRoles(ctx context.Context, userID int64, roleIDs []int64, entry *auth.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists (select 1 from users where id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return auth.ErrUserNotFound
	}

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
		`, userID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.ErrRoleNotFound
			}
			return err
		}
	}
	if err := appendAudit(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *userStore) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
