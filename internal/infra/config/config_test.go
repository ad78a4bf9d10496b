package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.JWT.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.JWT.AccessTokenTTL)
	}
	if cfg.JWT.RefreshTokenTTL != 168*time.Hour {
		t.Fatalf("expected 168h refresh ttl, got %s", cfg.JWT.RefreshTokenTTL)
	}
	if !cfg.Security.RevokeOnReuse {
		t.Fatalf("expected reuse revocation enabled by default")
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Fatalf("expected no kafka brokers by default, got %v", cfg.Kafka.Brokers)
	}
	if len(cfg.App.TrustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies by default, got %v", cfg.App.TrustedProxies)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INVENTORY_AUTH_JWT_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("INVENTORY_AUTH_SECURITY_REVOKE_ON_REUSE", "false")
	t.Setenv("INVENTORY_AUTH_APP_PORT", "9091")
	t.Setenv("INVENTORY_AUTH_APP_TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.JWT.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("expected 5m access ttl, got %s", cfg.JWT.AccessTokenTTL)
	}
	if cfg.Security.RevokeOnReuse {
		t.Fatalf("expected reuse revocation disabled via env")
	}
	if cfg.App.Port != 9091 {
		t.Fatalf("expected port 9091, got %d", cfg.App.Port)
	}
	if len(cfg.App.TrustedProxies) != 2 || cfg.App.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("expected trusted proxies from env, got %v", cfg.App.TrustedProxies)
	}
}

func TestLoad_RejectsRefreshShorterThanAccess(t *testing.T) {
	t.Setenv("INVENTORY_AUTH_JWT_REFRESH_TOKEN_TTL", "10m")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "refresh_token_ttl") {
		t.Fatalf("expected refresh ttl validation error, got %v", err)
	}
}

func TestPostgresSettings_DSN(t *testing.T) {
	s := PostgresSettings{Host: "db", Port: 5432, User: "svc", Password: "p@ss word", Database: "inventory", SSLMode: "disable"}

	dsn := s.DSN()
	if dsn != "postgres://svc:p%40ss%20word@db:5432/inventory?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}
