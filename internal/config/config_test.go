package config

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Repository.Driver)
	}
	if cfg.Rules.SnapshotPath != "" {
		t.Errorf("expected embedded snapshot by default, got %q", cfg.Rules.SnapshotPath)
	}
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "auditor.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPS != 10 {
		t.Errorf("expected rate limit 10, got %f", cfg.Server.RateLimitRPS)
	}
	if cfg.Cache.Type != "none" {
		t.Errorf("expected cache none, got %s", cfg.Cache.Type)
	}
	if cfg.Pipeline.ClaimTimeout != 250*time.Millisecond {
		t.Errorf("expected claim timeout 250ms, got %s", cfg.Pipeline.ClaimTimeout)
	}
	if cfg.Rules.SnapshotPath != "./rules.yaml" {
		t.Errorf("expected snapshot path ./rules.yaml, got %s", cfg.Rules.SnapshotPath)
	}

	// Keys absent from the file keep their defaults
	if cfg.Server.ReadTimeout != 30 {
		t.Errorf("expected default read timeout 30, got %d", cfg.Server.ReadTimeout)
	}
	if cfg.EventBus.Type != "channel" {
		t.Errorf("expected default channel bus, got %s", cfg.EventBus.Type)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUDITOR_SERVER_PORT", "9191")
	t.Setenv("AUDITOR_PIPELINE_WORKERS", "16")
	t.Setenv("AUDITOR_CACHE_LOCAL_TTL", "30s")
	t.Setenv("AUDITOR_DECISION_CONFIG", "/etc/auditor/decision.yaml")
	t.Setenv("AUDITOR_DEBUG", "true")

	cfg, err := Load(filepath.Join("testdata", "auditor.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("expected env port 9191 over file, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.Workers != 16 {
		t.Errorf("expected 16 workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Cache.LocalTTL != 30*time.Second {
		t.Errorf("expected local ttl 30s, got %s", cfg.Cache.LocalTTL)
	}
	if cfg.DecisionConfigPath != "/etc/auditor/decision.yaml" {
		t.Errorf("expected decision config path, got %q", cfg.DecisionConfigPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("AUDITOR_TIER", "pro")
	t.Setenv("AUDITOR_REPOSITORY_POSTGRES_HOST", "db.internal")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Repository.Driver)
	}
	if cfg.Repository.PostgresHost != "db.internal" {
		t.Errorf("expected host db.internal, got %s", cfg.Repository.PostgresHost)
	}
	if cfg.EventBus.Type != "nats" {
		t.Errorf("expected nats, got %s", cfg.EventBus.Type)
	}
	if !cfg.Pipeline.AsyncWorker {
		t.Error("expected async worker in pro tier")
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid driver", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("repository:\n  driver: oracle\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		if !domain.IsConfigurationError(err) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		field  string
	}{
		{"tier", func(c *domain.Config) { c.Tier = "enterprise" }, "tier"},
		{"port", func(c *domain.Config) { c.Server.Port = 70000 }, "server.port"},
		{"cache", func(c *domain.Config) { c.Cache.Type = "memcached" }, "cache.type"},
		{"bus", func(c *domain.Config) { c.EventBus.Type = "kafka" }, "eventbus.type"},
		{"workers", func(c *domain.Config) { c.Pipeline.Workers = -1 }, "pipeline.workers"},
		{"level", func(c *domain.Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"format", func(c *domain.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if !domain.IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error naming %s, got %v", tt.field, err)
			}
		})
	}

	if err := Validate(domain.ProConfig()); err != nil {
		t.Errorf("expected pro config to be valid, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	for _, want := range []string{"server.port", "cache.local_ttl", "eventbus.nats_url", "rules.snapshot_path", "decision_config"} {
		if !slices.Contains(keys, want) {
			t.Errorf("expected key %s in %v", want, keys)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "claim_id", "c-1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info to be filtered, got %s", out)
	}
	if !strings.Contains(out, `"claim_id":"c-1"`) {
		t.Errorf("expected JSON field claim_id, got %s", out)
	}
}
