package httpapi

import (
	"context"
	"net/http"
	"time"

	"nexusconsole.org/internal/auth"
	"nexusconsole.org/internal/config"
	"nexusconsole.org/internal/obs"
)

// Pinger is what the readiness probe needs from the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks downstream connectivity.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	cfg        config.Config
	readyProbe ReadyProbe
	version    string

	authsvc *auth.Service
	users   *auth.UserService
	rbac    *auth.RBACService

	userCache *readCache
	limiter   *RateLimiter
}

// New wires routes onto the services.
func New(cfg config.Config, rp ReadyProbe, version string, authsvc *auth.Service, users *auth.UserService, rbac *auth.RBACService) *API {
	a := &API{
		mux:        http.NewServeMux(),
		cfg:        cfg,
		readyProbe: rp,
		version:    version,
		authsvc:    authsvc,
		users:      users,
		rbac:       rbac,
		userCache:  newReadCache(cfg.ReadCacheTTL),
		limiter:    NewRateLimiter(cfg.RateBurst, cfg.RatePerSec),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/v1/auth/", a.handleAuth)
	a.mux.HandleFunc("/api/v1/users", a.handleUsers)
	a.mux.HandleFunc("/api/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/api/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/api/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/api/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/api/v1/audit/logs", a.handleAuditLogs)
	a.mux.HandleFunc("/api/v1/audit/logs/", a.handleAuditLogResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = a.limiter.Middleware(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// Close stops background work owned by the API.
func (a *API) Close() {
	a.limiter.Close()
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "nexus-console-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
