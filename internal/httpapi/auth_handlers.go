package httpapi

import (
	"net/http"
	"strings"
	"time"

	"nexusconsole.org/internal/auth"
	"nexusconsole.org/internal/obs"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type sessionResponse struct {
	User             auth.User `json:"user"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func (a *API) handleAuth(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/api/v1/auth/") {
	case "register":
		a.handleRegister(w, r)
	case "login":
		a.handleLogin(w, r)
	case "refresh":
		a.handleRefresh(w, r)
	case "logout":
		a.handleLogout(w, r)
	case "change-password":
		a.handleChangePassword(w, r)
	case "me":
		a.handleMe(w, r)
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	user, err := a.authsvc.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	user, pair, err := a.authsvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.CountAuthFailure("login")
		handleServiceError(w, r, err)
		return
	}
	a.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, sessionResponse{
		User:             user,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// handleRefresh rotates the token pair from the refresh cookie. The
// endpoint is public; the cookie itself is the credential.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	c, err := r.Cookie(refreshCookieName)
	if err != nil || c.Value == "" {
		obs.CountAuthFailure("missing_refresh")
		writeError(w, r, http.StatusUnauthorized, codeAuthRequired, "refresh token required")
		return
	}
	user, pair, err := a.authsvc.Refresh(r.Context(), c.Value)
	if err != nil {
		obs.CountAuthFailure("refresh")
		handleServiceError(w, r, err)
		return
	}
	a.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, sessionResponse{
		User:             user,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// handleLogout revokes every outstanding token for the principal and
// clears both cookies.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeAuthRequired, "authentication required")
		return
	}
	if err := a.authsvc.Logout(r.Context(), principal.User.ID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeAuthRequired, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err := a.authsvc.ChangePassword(r.Context(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, r, err)
		return
	}
	// every other session is revoked; this one must log in again too
	a.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeAuthRequired, "authentication required")
		return
	}
	perms := make([]string, 0, len(principal.Permissions))
	for code := range principal.Permissions {
		perms = append(perms, code)
	}
	roles, err := a.rbac.RolesForUser(r.Context(), principal.User.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        principal.User,
		"roles":       roles,
		"permissions": sortStrings(perms),
	})
}

func (a *API) setAuthCookies(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, a.authCookie(accessCookieName, pair.AccessToken, "/", pair.AccessExpiresAt))
	http.SetCookie(w, a.authCookie(refreshCookieName, pair.RefreshToken, "/api/v1/auth", pair.RefreshExpiresAt))
}

func (a *API) clearAuthCookies(w http.ResponseWriter) {
	expired := time.Unix(0, 0)
	access := a.authCookie(accessCookieName, "", "/", expired)
	access.MaxAge = -1
	refresh := a.authCookie(refreshCookieName, "", "/api/v1/auth", expired)
	refresh.MaxAge = -1
	http.SetCookie(w, access)
	http.SetCookie(w, refresh)
}

func (a *API) authCookie(name, value, path string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   a.cfg.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: sameSiteMode(a.cfg.CookieSameSite),
	}
}

func sameSiteMode(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
