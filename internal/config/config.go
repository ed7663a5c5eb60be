// Package config builds the runtime configuration from defaults, an optional
// TOML file, a .env file and SENTINEL_* environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/identity"
)

const (
	// EnvConfigFile names the TOML file when Load is given no path.
	EnvConfigFile = "SENTINEL_CONFIG"
	// EnvTier selects the base configuration: community or pro.
	EnvTier = "SENTINEL_TIER"

	// DefaultEnvFile is read when present. Process variables win over it.
	DefaultEnvFile = ".env"
)

type lookupFunc func(string) (string, bool)

// Load returns the configuration. path may be empty, in which case
// SENTINEL_CONFIG is consulted and a missing file means defaults only.
func Load(path string) (*domain.Config, error) {
	return load(path, DefaultEnvFile, os.LookupEnv)
}

func load(path, envFile string, lookup lookupFunc) (*domain.Config, error) {
	dotenv, err := readEnvFile(envFile)
	if err != nil {
		return nil, err
	}
	lookup = layered(lookup, dotenv)

	if path == "" {
		path, _ = lookup(EnvConfigFile)
	}

	var raw []byte
	if path != "" {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	tier, err := baseTier(raw, lookup)
	if err != nil {
		return nil, err
	}
	cfg := domain.DefaultConfig()
	if tier == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if len(raw) > 0 {
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Tier = tier

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnvFile(name string) (map[string]string, error) {
	if name == "" {
		return nil, nil
	}
	values, err := godotenv.Read(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return values, nil
}

func layered(primary lookupFunc, fallback map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

// baseTier resolves the tier before the file is applied so that a pro
// file starts from the pro backends.
func baseTier(raw []byte, lookup lookupFunc) (domain.Tier, error) {
	tier := domain.TierCommunity
	if len(raw) > 0 {
		var head struct {
			Tier domain.Tier `toml:"tier"`
		}
		if err := toml.Unmarshal(raw, &head); err != nil {
			return "", fmt.Errorf("parse config: %w", err)
		}
		if head.Tier != "" {
			tier = head.Tier
		}
	}
	if v, ok := lookup(EnvTier); ok && v != "" {
		tier = domain.Tier(strings.ToLower(v))
	}
	switch tier {
	case domain.TierCommunity, domain.TierPro:
		return tier, nil
	default:
		return "", fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, tier)
	}
}

type envVar struct {
	name  string
	apply func(cfg *domain.Config, value string) error
}

var envVars = []envVar{
	{"SENTINEL_HOST", str(func(c *domain.Config) *string { return &c.Server.Host })},
	{"SENTINEL_PORT", integer(func(c *domain.Config) *int { return &c.Server.Port })},

	{"SENTINEL_DB_DRIVER", str(func(c *domain.Config) *string { return &c.Repository.Driver })},
	{"SENTINEL_SQLITE_PATH", str(func(c *domain.Config) *string { return &c.Repository.SQLitePath })},
	{"SENTINEL_POSTGRES_HOST", str(func(c *domain.Config) *string { return &c.Repository.PostgresHost })},
	{"SENTINEL_POSTGRES_PORT", integer(func(c *domain.Config) *int { return &c.Repository.PostgresPort })},
	{"SENTINEL_POSTGRES_USER", str(func(c *domain.Config) *string { return &c.Repository.PostgresUser })},
	{"SENTINEL_POSTGRES_PASSWORD", str(func(c *domain.Config) *string { return &c.Repository.PostgresPassword })},
	{"SENTINEL_POSTGRES_DB", str(func(c *domain.Config) *string { return &c.Repository.PostgresDB })},
	{"SENTINEL_POSTGRES_SSLMODE", str(func(c *domain.Config) *string { return &c.Repository.PostgresSSLMode })},

	{"SENTINEL_CACHE_TYPE", str(func(c *domain.Config) *string { return &c.Cache.Type })},
	{"SENTINEL_REDIS_ADDR", str(func(c *domain.Config) *string { return &c.Cache.RedisAddr })},
	{"SENTINEL_REDIS_PASSWORD", str(func(c *domain.Config) *string { return &c.Cache.RedisPassword })},
	{"SENTINEL_CACHE_TWO_PHASE", boolean(func(c *domain.Config) *bool { return &c.Cache.EnableTwoPhase })},

	{"SENTINEL_BUS_TYPE", str(func(c *domain.Config) *string { return &c.EventBus.Type })},
	{"SENTINEL_NATS_URL", str(func(c *domain.Config) *string { return &c.EventBus.NATSUrl })},
	{"SENTINEL_NATS_TOKEN", str(func(c *domain.Config) *string { return &c.EventBus.NATSToken })},

	{"SENTINEL_IDENTITY_METRIC", str(func(c *domain.Config) *string { return &c.Identity.Metric })},
	{"SENTINEL_WORKERS", integer(func(c *domain.Config) *int { return &c.Scoring.Workers })},
	{"SENTINEL_BATCH_TIMEOUT_SEC", integer(func(c *domain.Config) *int { return &c.Scoring.BatchTimeoutSec })},

	{"SENTINEL_MODEL_NAME", str(func(c *domain.Config) *string { return &c.Model.Name })},
	{"SENTINEL_TRAINING_DATA", str(func(c *domain.Config) *string { return &c.Model.TrainingDataPath })},

	{"SENTINEL_VAHAN_PATH", str(func(c *domain.Config) *string { return &c.Registry.VehiclePath })},
	{"SENTINEL_DISCOM_PATH", str(func(c *domain.Config) *string { return &c.Registry.UtilityPath })},
	{"SENTINEL_CIVIL_PATH", str(func(c *domain.Config) *string { return &c.Registry.CivilPath })},

	{"SENTINEL_ASYNC_WORKER", boolean(func(c *domain.Config) *bool { return &c.Worker.Enabled })},
	{"SENTINEL_TENANTS", list(func(c *domain.Config) *[]string { return &c.Worker.Tenants })},

	{"SENTINEL_LOG_LEVEL", str(func(c *domain.Config) *string { return &c.Logging.Level })},
	{"SENTINEL_LOG_FORMAT", str(func(c *domain.Config) *string { return &c.Logging.Format })},
	{"SENTINEL_TRACING", boolean(func(c *domain.Config) *bool { return &c.Tracing.Enabled })},
}

func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	for _, v := range envVars {
		value, ok := lookup(v.name)
		if !ok || value == "" {
			continue
		}
		if err := v.apply(cfg, value); err != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrValidation, v.name, err)
		}
	}
	return nil
}

func str(field func(*domain.Config) *string) func(*domain.Config, string) error {
	return func(c *domain.Config, v string) error {
		*field(c) = v
		return nil
	}
}

func integer(field func(*domain.Config) *int) func(*domain.Config, string) error {
	return func(c *domain.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolean(field func(*domain.Config) *bool) func(*domain.Config, string) error {
	return func(c *domain.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func list(field func(*domain.Config) *[]string) func(*domain.Config, string) error {
	return func(c *domain.Config, v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*field(c) = out
		return nil
	}
}

// Validate checks a configuration for values the backends cannot use.
func Validate(cfg *domain.Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		fail("server.port %d out of range", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		fail("repository.driver %q is not sqlite or postgres", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		fail("cache.type %q is not memory or redis", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		fail("event_bus.type %q is not channel or nats", cfg.EventBus.Type)
	}
	if _, err := identity.NewMetric(cfg.Identity.Metric); err != nil {
		fail("identity.metric: %v", err)
	}
	if !inUnit(cfg.Identity.NameThreshold) || !inUnit(cfg.Identity.AddressThreshold) {
		fail("identity thresholds must be in (0, 1]")
	}
	if cfg.Scoring.Workers < 1 {
		fail("scoring.workers must be at least 1")
	}
	if cfg.Scoring.BatchTimeoutSec < 0 {
		fail("scoring.batch_timeout_sec must not be negative")
	}
	if !inUnit(cfg.Scoring.SimilarityThreshold) {
		fail("scoring.similarity_threshold must be in (0, 1]")
	}
	if c := cfg.Scoring.AnomalyContamination; c <= 0 || c >= 0.5 {
		fail("scoring.anomaly_contamination must be in (0, 0.5)")
	}
	if _, err := LogLevel(cfg.Logging.Level); err != nil {
		fail("logging.level: %v", err)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		fail("logging.format %q is not json or text", cfg.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: invalid configuration: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

func inUnit(v float64) bool {
	return v > 0 && v <= 1
}

// LogLevel parses debug, info, warn or error.
func LogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	level, err := LogLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
