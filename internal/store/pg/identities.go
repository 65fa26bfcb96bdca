package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"nexusconsole.org/internal/auth"
)

type identityStore struct {
	db *sql.DB
}

const identityColumns = `id, user_id, provider, identifier, coalesce(password_hash, ''), token_version, last_login_at, created_at, updated_at`

func scanIdentity(row interface{ Scan(...any) error }) (auth.AuthIdentity, error) {
	var (
		ident auth.AuthIdentity
		last  sql.NullTime
	)
	err := row.Scan(&ident.ID, &ident.UserID, &ident.Provider, &ident.Identifier,
		&ident.PasswordHash, &ident.TokenVersion, &last, &ident.CreatedAt, &ident.UpdatedAt)
	if last.Valid {
		t := last.Time
		ident.LastLoginAt = &t
	}
	return ident, err
}

// RegisterPassword creates the user row and its password identity in one
// transaction. The identifier is the normalized email.
func (s *identityStore) RegisterPassword(ctx context.Context, email, name, passwordHash string) (auth.User, auth.AuthIdentity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, auth.AuthIdentity{}, err
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, `
		insert into users (email, name, is_active)
		values ($1, $2, true)
		returning `+userColumns+`
	`, email, nullIfEmpty(name)))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.AuthIdentity{}, auth.ErrEmailExists
		}
		return auth.User{}, auth.AuthIdentity{}, err
	}

	ident, err := scanIdentity(tx.QueryRowContext(ctx, `
		insert into auth_identities (user_id, provider, identifier, password_hash)
		values ($1, $2, $3, $4)
		returning `+identityColumns+`
	`, u.ID, auth.ProviderPassword, email, passwordHash))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.AuthIdentity{}, auth.ErrEmailExists
		}
		return auth.User{}, auth.AuthIdentity{}, err
	}

	if err := appendAudit(ctx, tx, &auth.AuditEntry{
		ActorUserID: &u.ID,
		Action:      "auth.register",
		TargetType:  "user",
		TargetID:    &u.ID,
		Payload:     map[string]any{"email": u.Email},
	}); err != nil {
		return auth.User{}, auth.AuthIdentity{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.User{}, auth.AuthIdentity{}, err
	}
	return u, ident, nil
}

func (s *identityStore) FindPassword(ctx context.Context, email string) (auth.AuthIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from auth_identities
		where provider = $1 and identifier = $2
	`, auth.ProviderPassword, email)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AuthIdentity{}, auth.ErrIdentityNotFound
	}
	return ident, err
}

func (s *identityStore) FindPasswordByUser(ctx context.Context, userID int64) (auth.AuthIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+identityColumns+`
		from auth_identities
		where provider = $1 and user_id = $2
	`, auth.ProviderPassword, userID)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AuthIdentity{}, auth.ErrIdentityNotFound
	}
	return ident, err
}

func (s *identityStore) TouchLogin(ctx context.Context, identityID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update auth_identities set last_login_at = $1, updated_at = now() where id = $2
	`, at, identityID)
	return err
}

func (s *identityStore) BumpTokenVersion(ctx context.Context, identityID int64) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		update auth_identities
		set token_version = token_version + 1, updated_at = now()
		where id = $1
		returning token_version
	`, identityID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrIdentityNotFound
	}
	return version, err
}

// UpdatePassword swaps the hash and revokes outstanding tokens in one
// statement.
func (s *identityStore) UpdatePassword(ctx context.Context, identityID int64, passwordHash string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		update auth_identities
		set password_hash = $1, token_version = token_version + 1, updated_at = now()
		where id = $2
		returning token_version
	`, passwordHash, identityID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrIdentityNotFound
	}
	return version, err
}
