package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EnvDefaults(t *testing.T) {
	t.Setenv("CONDO_WATER_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("STATS_CACHE_TTL", "90s")
	t.Setenv("MAIL_RETRIES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Fatalf("expected memory store without database url, got %s", cfg.StoreBackend)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StatsCacheTTL != 90*time.Second || cfg.MailRetries != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.InvitationTTL != 7*24*time.Hour {
		t.Fatalf("unexpected invitation ttl %s", cfg.InvitationTTL)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "condo-water.yaml")
	data := []byte("http_addr: \":9090\"\ndatabase_url: postgres://localhost/condo\nredis_addr: localhost:6379\ninvitation_ttl: 48h\nlog_format: console\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONDO_WATER_CONFIG", path)
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("STORE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.StoreBackend != StorePostgres || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if cfg.InvitationTTL != 48*time.Hour || cfg.LogFormat != "console" {
		t.Fatalf("unexpected overlay values: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("CONDO_WATER_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "")

	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing secret error")
	}

	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("STORE_BACKEND", "postgres")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing database url error")
	}

	t.Setenv("STORE_BACKEND", "etcd")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown backend error")
	}

	t.Setenv("STORE_BACKEND", "")
	t.Setenv("CONDO_WATER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing file error")
	}
}
