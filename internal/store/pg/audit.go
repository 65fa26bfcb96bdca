package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nexusconsole.org/internal/auth"
)

type auditStore struct {
	db *sql.DB
}

const auditColumns = `id, actor_user_id, action, target_type, target_id, payload, coalesce(request_id, ''), coalesce(ip, ''), coalesce(user_agent, ''), created_at`

func scanAuditEntry(row interface{ Scan(...any) error }) (auth.AuditEntry, error) {
	var (
		e       auth.AuditEntry
		actor   sql.NullInt64
		target  sql.NullInt64
		payload []byte
	)
	err := row.Scan(&e.ID, &actor, &e.Action, &e.TargetType, &target, &payload,
		&e.RequestID, &e.IP, &e.UserAgent, &e.CreatedAt)
	if err != nil {
		return auth.AuditEntry{}, err
	}
	if actor.Valid {
		v := actor.Int64
		e.ActorUserID = &v
	}
	if target.Valid {
		v := target.Int64
		e.TargetID = &v
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return auth.AuditEntry{}, err
		}
	}
	return e, nil
}

// Append writes a standalone audit row. Mutations carry their entries
// through the repository methods instead; this path serves actions with no
// other database change.
func (s *auditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	return appendAudit(ctx, s.db, entry)
}

func (s *auditStore) Get(ctx context.Context, id int64) (auth.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `select `+auditColumns+` from audit_logs where id = $1`, id)
	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AuditEntry{}, auth.ErrAuditLogNotFound
	}
	return e, err
}

func (s *auditStore) List(ctx context.Context, filter auth.AuditFilter, skip, limit int) ([]auth.AuditEntry, int, error) {
	skip, limit = clampPage(skip, limit)

	where := make([]string, 0, 5)
	args := make([]any, 0, 5)
	if filter.ActorUserID != nil {
		args = append(args, *filter.ActorUserID)
		where = append(where, fmt.Sprintf("actor_user_id = $%d", len(args)))
	}
	if f := strings.TrimSpace(filter.Action); f != "" {
		args = append(args, f)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if f := strings.TrimSpace(filter.TargetType); f != "" {
		args = append(args, f)
		where = append(where, fmt.Sprintf("target_type = $%d", len(args)))
	}
	if filter.TargetID != nil {
		args = append(args, *filter.TargetID)
		where = append(where, fmt.Sprintf("target_id = $%d", len(args)))
	}
	if f := strings.TrimSpace(filter.RequestID); f != "" {
		args = append(args, f)
		where = append(where, fmt.Sprintf("request_id = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, skip)
	query := fmt.Sprintf(`select %s from audit_logs%s order by created_at desc, id desc limit $%d offset $%d`,
		auditColumns, cond, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]auth.AuditEntry, 0, limit)
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
