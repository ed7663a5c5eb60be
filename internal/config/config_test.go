package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/sentinel/internal/domain"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("", "", envMap(nil))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("unexpected community backends: %+v", cfg)
	}
	if cfg.Scoring.AnomalyMinPeers != 10 || cfg.Scoring.SimilarityThreshold != 0.8 {
		t.Errorf("unexpected scoring defaults: %+v", cfg.Scoring)
	}
	if cfg.Worker.Enabled {
		t.Error("community tier should not start the worker by default")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("OverridesDefaults", func(t *testing.T) {
		path := writeFile(t, dir, "sentinel.toml", `
[server]
port = 9090

[identity]
metric = "token_edit"

[scoring]
workers = 3
similarity_threshold = 0.9

[worker]
enabled = true
tenants = ["pwd", "welfare"]
`)
		cfg, err := load(path, "", envMap(nil))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Server.Port != 9090 || cfg.Server.Host != "0.0.0.0" {
			t.Errorf("unexpected server config: %+v", cfg.Server)
		}
		if cfg.Identity.Metric != "token_edit" || cfg.Identity.NameThreshold != 0.70 {
			t.Errorf("unexpected identity config: %+v", cfg.Identity)
		}
		if cfg.Scoring.Workers != 3 || cfg.Scoring.SimilarityThreshold != 0.9 || cfg.Scoring.AnomalyMinPeers != 10 {
			t.Errorf("unexpected scoring config: %+v", cfg.Scoring)
		}
		if !cfg.Worker.Enabled || len(cfg.Worker.Tenants) != 2 {
			t.Errorf("unexpected worker config: %+v", cfg.Worker)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		path := writeFile(t, dir, "pro.toml", `
tier = "pro"

[repository]
postgres_db = "audit"
`)
		cfg, err := load(path, "", envMap(nil))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" {
			t.Errorf("expected pro backends, got tier=%s driver=%s", cfg.Tier, cfg.Repository.Driver)
		}
		if cfg.Repository.PostgresDB != "audit" || cfg.Repository.PostgresHost != "localhost" {
			t.Errorf("unexpected repository config: %+v", cfg.Repository)
		}
		if cfg.EventBus.Type != "nats" || !cfg.Worker.Enabled {
			t.Errorf("expected nats bus with worker, got %+v %+v", cfg.EventBus, cfg.Worker)
		}
	})

	t.Run("FromEnvironment", func(t *testing.T) {
		path := writeFile(t, dir, "env.toml", "[server]\nport = 8181\n")
		cfg, err := load("", "", envMap(map[string]string{EnvConfigFile: path}))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Server.Port != 8181 {
			t.Errorf("expected port from SENTINEL_CONFIG file, got %d", cfg.Server.Port)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := load(filepath.Join(dir, "absent.toml"), "", envMap(nil)); err == nil {
			t.Error("expected error for missing explicit file")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		path := writeFile(t, dir, "bad.toml", "[server\nport = ")
		if _, err := load(path, "", envMap(nil)); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestLoadEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sentinel.toml", "[server]\nport = 9090\n")

	t.Run("EnvBeatsFile", func(t *testing.T) {
		cfg, err := load(path, "", envMap(map[string]string{
			"SENTINEL_PORT":            "7070",
			"SENTINEL_TENANTS":         "pwd, welfare ,",
			"SENTINEL_ASYNC_WORKER":    "true",
			"SENTINEL_IDENTITY_METRIC": "token_edit",
		}))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
		}
		if got := strings.Join(cfg.Worker.Tenants, "|"); got != "pwd|welfare" || !cfg.Worker.Enabled {
			t.Errorf("unexpected worker config: %+v", cfg.Worker)
		}
		if cfg.Identity.Metric != "token_edit" {
			t.Errorf("unexpected metric %s", cfg.Identity.Metric)
		}
	})

	t.Run("DotEnv", func(t *testing.T) {
		envFile := writeFile(t, dir, ".env", "SENTINEL_PORT=6060\nSENTINEL_LOG_LEVEL=debug\nSENTINEL_TIER=pro\n")
		cfg, err := load("", envFile, envMap(map[string]string{"SENTINEL_LOG_LEVEL": "warn"}))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Server.Port != 6060 {
			t.Errorf("expected port from .env, got %d", cfg.Server.Port)
		}
		if cfg.Logging.Level != "warn" {
			t.Errorf("process environment should win over .env, got %s", cfg.Logging.Level)
		}
		if cfg.Tier != domain.TierPro {
			t.Errorf("expected pro tier from .env, got %s", cfg.Tier)
		}
	})

	t.Run("MissingDotEnvIgnored", func(t *testing.T) {
		if _, err := load("", filepath.Join(dir, "nope.env"), envMap(nil)); err != nil {
			t.Errorf("missing .env should be ignored, got %v", err)
		}
	})

	t.Run("BadNumber", func(t *testing.T) {
		_, err := load("", "", envMap(map[string]string{"SENTINEL_WORKERS": "many"}))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
		if err != nil && !strings.Contains(err.Error(), "SENTINEL_WORKERS") {
			t.Errorf("error should name the variable: %v", err)
		}
	})

	t.Run("UnknownTier", func(t *testing.T) {
		_, err := load("", "", envMap(map[string]string{EnvTier: "enterprise"}))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"port", func(c *domain.Config) { c.Server.Port = 0 }},
		{"driver", func(c *domain.Config) { c.Repository.Driver = "mysql" }},
		{"cache", func(c *domain.Config) { c.Cache.Type = "memcached" }},
		{"bus", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
		{"metric", func(c *domain.Config) { c.Identity.Metric = "cosine" }},
		{"threshold", func(c *domain.Config) { c.Identity.NameThreshold = 1.5 }},
		{"workers", func(c *domain.Config) { c.Scoring.Workers = 0 }},
		{"contamination", func(c *domain.Config) { c.Scoring.AnomalyContamination = 0.7 }},
		{"log level", func(c *domain.Config) { c.Logging.Level = "loud" }},
		{"log format", func(c *domain.Config) { c.Logging.Format = "xml" }},
	}

	if err := Validate(domain.DefaultConfig()); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if err := Validate(domain.ProConfig()); err != nil {
		t.Fatalf("pro config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "tenant_id", "t1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, `"tenant_id":"t1"`) {
		t.Errorf("expected JSON attribute, got %s", out)
	}

	level, err := LogLevel("debug")
	if err != nil || level != slog.LevelDebug {
		t.Errorf("LogLevel(debug) = %v, %v", level, err)
	}
}
