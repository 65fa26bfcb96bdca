package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexusconsole.org/internal/audit"
	"nexusconsole.org/internal/auth"
	"nexusconsole.org/internal/config"
	"nexusconsole.org/internal/httpapi"
	"nexusconsole.org/internal/migrate"
	"nexusconsole.org/internal/obs"
	"nexusconsole.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("NEXUS_PG_DSN is required")
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if cfg.AutoMigrate {
		mgr := migrate.NewManager(store.DB(), cfg.MigrationsPath, cfg.SeedsPath)
		if err := mgr.Up(startupCtx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		if err := mgr.Seed(startupCtx); err != nil {
			log.Fatalf("migrate seed: %v", err)
		}
	}

	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret, cfg.Issuer, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	authsvc, err := auth.NewService(store, tokens)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	if err := authsvc.EnsureBuiltins(startupCtx); err != nil {
		log.Fatalf("ensure builtin permissions: %v", err)
	}

	recorder := audit.NewRecorder()
	users, err := auth.NewUserService(store, recorder)
	if err != nil {
		log.Fatalf("user service: %v", err)
	}
	rbac, err := auth.NewRBACService(store, recorder)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	api := httpapi.New(cfg, httpapi.ReadyProbe{DB: store}, version, authsvc, users, rbac)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting nexus-console-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	api.Close()
	log.Println("Stopped")
}
