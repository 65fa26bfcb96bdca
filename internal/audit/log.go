// Package audit emits the structured-log half of the audit trail. The
// database row for each entry is written by the store inside the mutation's
// transaction; Recorder mirrors the committed entry to the log stream so
// operators can tail administrative activity without querying the table.
package audit

import (
	"context"
	"strings"
	"time"

	"nexusconsole.org/internal/auth"
	"nexusconsole.org/internal/obs"
)

type metaContextKey struct{}

// RequestMeta is the per-request context attached to audit entries.
type RequestMeta struct {
	RequestID string
	IP        string
	UserAgent string
}

// WithRequestMeta stores request metadata for later audit use.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	meta.RequestID = strings.TrimSpace(meta.RequestID)
	return context.WithValue(ctx, metaContextKey{}, meta)
}

// RequestMetaFromContext returns the request metadata, zero if absent.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	if v, ok := ctx.Value(metaContextKey{}).(RequestMeta); ok {
		return v
	}
	return RequestMeta{}
}

// Recorder implements auth.AuditSink by writing one JSON line per committed
// audit entry, with the same fields as the database row.
type Recorder struct {
	now func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

var _ auth.AuditSink = (*Recorder)(nil)

// Record emits the structured audit line and bumps the audit metric.
func (r *Recorder) Record(_ context.Context, entry *auth.AuditEntry) {
	if entry == nil || entry.Action == "" {
		return
	}
	line := map[string]any{
		"ts":          r.now().UTC().Format(time.RFC3339Nano),
		"type":        "audit",
		"action":      entry.Action,
		"target_type": entry.TargetType,
	}
	if entry.ActorUserID != nil {
		line["actor_user_id"] = *entry.ActorUserID
	}
	if entry.TargetID != nil {
		line["target_id"] = *entry.TargetID
	}
	if len(entry.Payload) > 0 {
		line["payload"] = entry.Payload
	}
	if entry.RequestID != "" {
		line["request_id"] = entry.RequestID
	}
	if entry.IP != "" {
		line["ip"] = entry.IP
	}
	if entry.UserAgent != "" {
		line["user_agent"] = entry.UserAgent
	}
	obs.LogRequest(line)
	obs.CountAuditRecord(entry.Action)
}
