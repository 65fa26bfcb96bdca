package httpapi

import (
	"net/http"
	"strings"

	"nexusconsole.org/internal/auth"
)

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRBACRead) {
		return
	}

	q := r.URL.Query()
	filter := auth.AuditFilter{
		Action:     q.Get("action"),
		TargetType: q.Get("target_type"),
		RequestID:  q.Get("request_id"),
	}
	if v, ok := parseInt64Param(q.Get("actor_user_id")); ok {
		filter.ActorUserID = &v
	}
	if v, ok := parseInt64Param(q.Get("target_id")); ok {
		filter.TargetID = &v
	}
	skip, limit := parsePagination(r)
	entries, total, err := a.rbac.ListAuditLogs(r.Context(), filter, skip, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(entries, total, skip, limit))
}

func (a *API) handleAuditLogResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRBACRead) {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/audit/logs/"), "/")
	id, ok := parseInt64Param(path)
	if !ok {
		writeError(w, r, http.StatusNotFound, codeAuditLogNotFound, "audit log not found")
		return
	}
	entry, err := a.rbac.GetAuditLog(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
