package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"nexusconsole.org/internal/auth"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsActive *bool  `json:"is_active"`
}

type updateUserRequest struct {
	Email    *string `json:"email"`
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

type setUserRolesRequest struct {
	Roles []string `json:"roles"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermUsersRead) {
			return
		}
		a.serveCachedList(w, r, func() (any, error) {
			filter := auth.UserFilter{
				Email: r.URL.Query().Get("email"),
				Name:  r.URL.Query().Get("name"),
			}
			if v := r.URL.Query().Get("is_active"); v != "" {
				active := v == "true" || v == "1"
				filter.IsActive = &active
			}
			skip, limit := parsePagination(r)
			users, total, err := a.users.List(r.Context(), filter, skip, limit)
			if err != nil {
				return nil, err
			}
			return newPage(users, total, skip, limit), nil
		})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermUsersWrite) {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}
		user, err := a.users.Create(r.Context(), req.Email, req.Name, active, auditMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.userCache.purge()
		w.Header().Set("Location", fmt.Sprintf("/api/v1/users/%d", user.ID))
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id, ok := parseInt64Param(parts[0])
	if !ok {
		writeError(w, r, http.StatusNotFound, codeUserNotFound, "user not found")
		return
	}
	switch {
	case len(parts) == 1:
		a.handleUserByID(w, r, id)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	}
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermUsersRead) {
			return
		}
		a.serveCachedList(w, r, func() (any, error) {
			return a.users.Get(r.Context(), id)
		})
	case http.MethodPatch, http.MethodPut:
		if !a.ensurePermission(w, r, auth.PermUsersWrite) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		user, err := a.users.Update(r.Context(), id, auth.UserUpdate{
			Email:    req.Email,
			Name:     req.Name,
			IsActive: req.IsActive,
		}, auditMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.userCache.purge()
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermUsersWrite) {
			return
		}
		if err := a.users.Delete(r.Context(), id, auditMeta(r)); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.userCache.purge()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodPut, http.MethodDelete)
	}
}

// handleUserRoles serves the assignment surface: GET returns the user's
// roles after exclusive-group resolution was applied at write time, PUT
// replaces the whole set.
func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID int64) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermUsersRead) {
			return
		}
		if _, err := a.users.Get(r.Context(), userID); err != nil {
			handleServiceError(w, r, err)
			return
		}
		roles, err := a.rbac.RolesForUser(r.Context(), userID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if roles == nil {
			roles = []auth.Role{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "roles": roles})
	case http.MethodPut:
		if !a.ensurePermission(w, r, auth.PermRBACWrite) {
			return
		}
		var req setUserRolesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		user, roles, err := a.rbac.SetUserRoles(r.Context(), userID, req.Roles, auditMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.userCache.purge()
		if roles == nil {
			roles = []auth.Role{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": user.ID, "roles": roles})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// serveCachedList wraps a read with the TTL cache: hits replay the stored
// body, misses render and store it. Cache-Control: no-cache skips the
// lookup but still refreshes the stored body.
func (a *API) serveCachedList(w http.ResponseWriter, r *http.Request, load func() (any, error)) {
	var key string
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		key = cacheKey(r, principal.User.ID)
		if !bypassCache(r) {
			if body, ok := a.userCache.get(key); ok {
				w.Header().Set("X-Cache", "HIT")
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(body)
				return
			}
		}
	}

	v, err := load()
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if key != "" {
		a.userCache.set(key, buf.Bytes())
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
