package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"nexusconsole.org/internal/audit"
	"nexusconsole.org/internal/auth"
	"nexusconsole.org/internal/obs"
)

const (
	authHeader        = "Authorization"
	bearer            = "Bearer "
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/api/v1/auth/register",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
}

// withAuth authenticates every request outside the public list. The access
// token is read from the access_token cookie first, with an Authorization
// bearer fallback for non-browser clients.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := extractAccessToken(r)
		if token == "" {
			obs.CountAuthFailure("missing_token")
			writeError(w, r, http.StatusUnauthorized, codeAuthRequired, "authentication required")
			return
		}

		principal, err := a.authsvc.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInactiveUser):
				obs.CountAuthFailure("inactive_user")
				writeError(w, r, http.StatusForbidden, codeInactiveUser, "user account is inactive")
			case errors.Is(err, auth.ErrInvalidToken):
				obs.CountAuthFailure("invalid_token")
				writeError(w, r, http.StatusUnauthorized, codeAuthRequired, "invalid or expired token")
			default:
				handleServiceError(w, r, err)
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = audit.WithRequestMeta(ctx, audit.RequestMeta{
			RequestID: requestIDFrom(r),
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensurePermission writes the error response itself and reports whether
// the handler may proceed.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeAuthRequired, "authentication required")
		return false
	}
	if !principal.HasPermission(perm) {
		obs.CountAuthFailure("permission_denied")
		writeError(w, r, http.StatusForbidden, codePermissionDenied, "missing permission "+perm)
		return false
	}
	return true
}

// auditMeta builds the audit context for a mutation performed by the
// authenticated principal.
func auditMeta(r *http.Request) auth.AuditMeta {
	meta := auth.AuditMeta{
		RequestID: requestIDFrom(r),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		id := principal.User.ID
		meta.ActorUserID = &id
	}
	return meta
}

func extractAccessToken(r *http.Request) string {
	if c, err := r.Cookie(accessCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
