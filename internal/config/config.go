package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "NEXUS_"

// Config carries every runtime setting for the service. It is built once in
// the composition root and handed to constructors by value; packages never
// read the environment themselves.
type Config struct {
	ListenAddr string

	PostgresDSN string

	AuthSecret string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	CookieDomain   string
	CookieSecure   bool
	CookieSameSite string

	RateBurst  int
	RatePerSec int

	MaxBodyBytes int64

	ReadCacheTTL time.Duration

	MigrationsPath string
	SeedsPath      string
	AutoMigrate    bool
}

// FromEnv loads configuration from NEXUS_* environment variables, applying
// defaults where a variable is unset.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:     getString("ADDR", ":8080"),
		PostgresDSN:    getString("PG_DSN", ""),
		AuthSecret:     getString("AUTH_SECRET", ""),
		Issuer:         getString("ISSUER", "nexus-console"),
		AccessTTL:      getDuration("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:     getDuration("REFRESH_TTL", 7*24*time.Hour),
		CookieDomain:   getString("COOKIE_DOMAIN", ""),
		CookieSecure:   getBool("COOKIE_SECURE", false),
		CookieSameSite: getString("COOKIE_SAMESITE", "lax"),
		RateBurst:      getInt("RATE_BURST", 20),
		RatePerSec:     getInt("RATE_PER_SEC", 10),
		MaxBodyBytes:   int64(getInt("MAX_BODY_BYTES", 1<<20)),
		ReadCacheTTL:   getDuration("READ_CACHE_TTL", time.Minute),
		MigrationsPath: getString("MIGRATIONS_PATH", "ops/migrations/sql"),
		SeedsPath:      getString("SEEDS_PATH", "ops/migrations/seeds"),
		AutoMigrate:    getBool("AUTO_MIGRATE", false),
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings the service cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("config: " + envPrefix + "AUTH_SECRET is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("config: refresh TTL must exceed access TTL")
	}
	switch strings.ToLower(c.CookieSameSite) {
	case "lax", "strict", "none":
	default:
		return fmt.Errorf("config: unsupported samesite mode %q", c.CookieSameSite)
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("config: rate limit values must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("config: max body bytes must be positive")
	}
	return nil
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
