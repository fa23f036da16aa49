package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.API.Port)
	}
	if cfg.App.IsProduction() {
		t.Fatalf("expected development env by default")
	}
	if len(cfg.Auth.UniversityDomains) != len(DefaultUniversityDomains) {
		t.Fatalf("expected default university domains, got %v", cfg.Auth.UniversityDomains)
	}
	if cfg.Cache.CostsTTL != 10*time.Minute {
		t.Fatalf("unexpected costs ttl %s", cfg.Cache.CostsTTL)
	}
	if cfg.Database.MaxOpenConns != 25 || cfg.Database.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("unexpected pool defaults %+v", cfg.Database)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("API_PORT", "9090")
	t.Setenv("ADMIN_EMAILS", "root@erasmus.cy, ops@erasmus.cy")
	t.Setenv("JWT_ACCESS_TOKEN_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.App.IsProduction() {
		t.Fatalf("expected production env")
	}
	if cfg.API.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.API.Port)
	}
	if len(cfg.Auth.AdminEmails) != 2 || cfg.Auth.AdminEmails[1] != "ops@erasmus.cy" {
		t.Fatalf("unexpected admin emails %v", cfg.Auth.AdminEmails)
	}
	if cfg.Auth.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("unexpected access ttl %s", cfg.Auth.AccessTokenTTL)
	}
}

func TestLoad_RejectsUnknownEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "staging")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown env")
	}
}

func TestLoad_RequiresMinioCredentials(t *testing.T) {
	t.Setenv("MINIO_ACCESS_KEY_ID", "")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without minio credentials")
	}
}
