package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"nexusconsole.org/internal/auth"
)

type createRoleRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	ExclusiveGroup string `json:"exclusive_group"`
	Priority       int    `json:"priority"`
}

type updateRoleRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	ExclusiveGroup *string `json:"exclusive_group"`
	Priority       *int    `json:"priority"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermRBACRead) {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if roles == nil {
			roles = []auth.Role{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles, "total": len(roles)})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermRBACWrite) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), auth.RoleInput{
			Name:           req.Name,
			Description:    req.Description,
			ExclusiveGroup: req.ExclusiveGroup,
			Priority:       req.Priority,
		}, auditMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/api/v1/roles/%d", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	id, ok := parseInt64Param(parts[0])
	if !ok {
		writeError(w, r, http.StatusNotFound, codeRoleNotFound, "role not found")
		return
	}
	switch {
	case len(parts) == 1:
		a.handleRoleByID(w, r, id)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	}
}

func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermRBACRead) {
			return
		}
		role, err := a.rbac.GetRole(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch, http.MethodPut:
		if !a.ensurePermission(w, r, auth.PermRBACWrite) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), id, auth.RoleUpdate{
			Name:           req.Name,
			Description:    req.Description,
			ExclusiveGroup: req.ExclusiveGroup,
			Priority:       req.Priority,
		}, auditMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermRBACWrite) {
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), id, auditMeta(r)); err != nil {
			handleServiceError(w, r, err)
			return
		}
		a.userCache.purge()
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID int64) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRBACWrite) {
		return
	}
	var req setRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	role, err := a.rbac.SetRolePermissions(r.Context(), roleID, req.Permissions, auditMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermRBACRead) {
		return
	}
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms, "total": len(perms)})
}
