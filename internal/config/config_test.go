package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("NEXUS_AUTH_SECRET", "test-secret")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.ListenAddr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTTL)
	}
	if cfg.CookieSameSite != "lax" {
		t.Fatalf("unexpected samesite: %s", cfg.CookieSameSite)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("NEXUS_AUTH_SECRET", "test-secret")
	t.Setenv("NEXUS_ADDR", ":9090")
	t.Setenv("NEXUS_ACCESS_TTL", "5m")
	t.Setenv("NEXUS_REFRESH_TTL", "48h")
	t.Setenv("NEXUS_RATE_BURST", "50")
	t.Setenv("NEXUS_COOKIE_SECURE", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("addr override ignored: %s", cfg.ListenAddr)
	}
	if cfg.AccessTTL != 5*time.Minute || cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("ttl overrides ignored: %v / %v", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if cfg.RateBurst != 50 {
		t.Fatalf("rate burst override ignored: %d", cfg.RateBurst)
	}
	if !cfg.CookieSecure {
		t.Fatal("cookie secure override ignored")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.AuthSecret = "" }},
		{"refresh shorter than access", func(c *Config) { c.RefreshTTL = c.AccessTTL }},
		{"bad samesite", func(c *Config) { c.CookieSameSite = "sideways" }},
		{"zero rate", func(c *Config) { c.RatePerSec = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{
				AuthSecret:     "secret",
				AccessTTL:      15 * time.Minute,
				RefreshTTL:     24 * time.Hour,
				CookieSameSite: "lax",
				RateBurst:      10,
				RatePerSec:     5,
				MaxBodyBytes:   1 << 20,
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
