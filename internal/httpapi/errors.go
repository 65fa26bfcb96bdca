package httpapi

import (
	"errors"
	"net/http"

	"nexusconsole.org/internal/auth"
	"nexusconsole.org/internal/obs"
)

// Machine-readable error codes carried in every error envelope.
const (
	codeValidation          = "VALIDATION_ERROR"
	codeEmailExists         = "EMAIL_EXISTS"
	codeRoleExists          = "ROLE_EXISTS"
	codeRoleInUse           = "ROLE_IN_USE"
	codeSystemRoleImmutable = "SYSTEM_ROLE_IMMUTABLE"
	codeUserNotFound        = "USER_NOT_FOUND"
	codeRoleNotFound        = "ROLE_NOT_FOUND"
	codeRoleNameNotFound    = "ROLE_NAME_NOT_FOUND"
	codePermissionNotFound  = "PERMISSION_NOT_FOUND"
	codeAuditLogNotFound    = "AUDIT_LOG_NOT_FOUND"
	codeNotFound            = "NOT_FOUND"
	codeAuthRequired        = "AUTH_REQUIRED"
	codeInvalidCredentials  = "INVALID_CREDENTIALS"
	codeInvalidPassword     = "INVALID_PASSWORD"
	codeInactiveUser        = "INACTIVE_USER"
	codePermissionDenied    = "PERMISSION_DENIED"
	codeIntegrity           = "INTEGRITY_ERROR"
	codeRateLimited         = "RATE_LIMITED"
	codeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	codeInternal            = "INTERNAL_ERROR"
)

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	RequestID  string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, status, errorEnvelope{
		Error:      http.StatusText(status),
		Detail:     detail,
		StatusCode: status,
		Code:       code,
		RequestID:  requestIDFrom(r),
	})
}

// handleServiceError maps service sentinels onto HTTP status and machine
// code. Unrecognized errors become an opaque 500 with the real cause
// logged server-side only.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *auth.MissingNamesError
	if errors.As(err, &missing) {
		code := codeRoleNameNotFound
		if errors.Is(missing.Sentinel, auth.ErrPermissionNotFound) {
			code = codePermissionNotFound
		}
		writeError(w, r, http.StatusNotFound, code, missing.Error())
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, codeValidation, err.Error())
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, r, http.StatusConflict, codeEmailExists, err.Error())
	case errors.Is(err, auth.ErrRoleExists):
		writeError(w, r, http.StatusConflict, codeRoleExists, err.Error())
	case errors.Is(err, auth.ErrRoleInUse):
		writeError(w, r, http.StatusConflict, codeRoleInUse, err.Error())
	case errors.Is(err, auth.ErrSystemRoleImmutable):
		writeError(w, r, http.StatusConflict, codeSystemRoleImmutable, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, codeIntegrity, err.Error())
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, codeUserNotFound, err.Error())
	case errors.Is(err, auth.ErrRoleNameNotFound):
		writeError(w, r, http.StatusNotFound, codeRoleNameNotFound, err.Error())
	case errors.Is(err, auth.ErrRoleNotFound):
		writeError(w, r, http.StatusNotFound, codeRoleNotFound, err.Error())
	case errors.Is(err, auth.ErrPermissionNotFound):
		writeError(w, r, http.StatusNotFound, codePermissionNotFound, err.Error())
	case errors.Is(err, auth.ErrAuditLogNotFound):
		writeError(w, r, http.StatusNotFound, codeAuditLogNotFound, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, codeAuthRequired, "invalid or expired token")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
	case errors.Is(err, auth.ErrInvalidPassword):
		writeError(w, r, http.StatusBadRequest, codeInvalidPassword, err.Error())
	case errors.Is(err, auth.ErrInactiveUser):
		writeError(w, r, http.StatusForbidden, codeInactiveUser, err.Error())
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, codePermissionDenied, err.Error())
	default:
		obs.LogRequest(map[string]any{
			"level":      "error",
			"msg":        "request_failed",
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": requestIDFrom(r),
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
