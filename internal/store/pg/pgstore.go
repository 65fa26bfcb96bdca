// Package pg implements auth.Store on PostgreSQL. Every mutating method
// that receives an *auth.AuditEntry writes the entry inside the same
// transaction as the business change; a failed mutation therefore never
// leaves an audit row behind, and a committed mutation always has one.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"nexusconsole.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Store wraps the connection pool and exposes the repository set.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

// Open connects to PostgreSQL with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() auth.UserStore             { return &userStore{db: s.db} }
func (s *Store) Identities() auth.IdentityStore    { return &identityStore{db: s.db} }
func (s *Store) Roles() auth.RoleStore             { return &roleStore{db: s.db} }
func (s *Store) Permissions() auth.PermissionStore { return &permissionStore{db: s.db} }
func (s *Store) Audit() auth.AuditStore            { return &auditStore{db: s.db} }

// execer is satisfied by both *sql.DB and *sql.Tx so the audit append can
// ride whichever transaction the caller is in.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// appendAudit inserts the audit row on the given executor. A nil entry is
// a no-op so read-only paths can share mutation helpers.
func appendAudit(ctx context.Context, ex execer, entry *auth.AuditEntry) error {
	if entry == nil {
		return nil
	}
	var payload any
	if len(entry.Payload) > 0 {
		raw, err := json.Marshal(entry.Payload)
		if err != nil {
			return err
		}
		payload = raw
	}
	row := ex.QueryRowContext(ctx, `
		insert into audit_logs (actor_user_id, action, target_type, target_id, payload, request_id, ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning id, created_at
	`, nullInt64(entry.ActorUserID), entry.Action, entry.TargetType, nullInt64(entry.TargetID),
		payload, nullIfEmpty(entry.RequestID), nullIfEmpty(entry.IP), nullIfEmpty(entry.UserAgent))
	return row.Scan(&entry.ID, &entry.CreatedAt)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func clampPage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return skip, limit
}
