// Package config assembles the Riskboard configuration from tier defaults,
// an optional YAML file and RISKBOARD_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/risk"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "RISKBOARD_"

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *domain.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func applyEnv(cfg *domain.Config) error {
	cfg.Server.Host = valueOrDefault("HOST", cfg.Server.Host)
	cfg.Logging.Level = valueOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = valueOrDefault("LOG_FORMAT", cfg.Logging.Format)
	if parseBoolWithDefault("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	cfg.Scoring.Mode = domain.ScoringMode(valueOrDefault("SCORING_MODE", string(cfg.Scoring.Mode)))
	cfg.Scoring.Endpoint = valueOrDefault("SCORING_URL", cfg.Scoring.Endpoint)
	cfg.Scoring.Path = valueOrDefault("SCORING_PATH", cfg.Scoring.Path)
	cfg.Scoring.Expression = valueOrDefault("SCORING_EXPRESSION", cfg.Scoring.Expression)
	cfg.Scoring.Workers = parseIntWithDefault("SCORING_WORKERS", cfg.Scoring.Workers)

	cfg.Analysis.TopN = parseIntWithDefault("TOP_N", cfg.Analysis.TopN)
	cfg.Analysis.PageSize = parseIntWithDefault("PAGE_SIZE", cfg.Analysis.PageSize)
	cfg.Analysis.DemoCount = parseIntWithDefault("DEMO_COUNT", cfg.Analysis.DemoCount)
	cfg.Analysis.MaxDemoCount = parseIntWithDefault("MAX_DEMO_COUNT", cfg.Analysis.MaxDemoCount)
	cfg.Analysis.UploadsPerMinute = parseIntWithDefault("UPLOADS_PER_MINUTE", cfg.Analysis.UploadsPerMinute)

	cfg.Repository.Driver = valueOrDefault("DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = valueOrDefault("SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = valueOrDefault("POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresUser = valueOrDefault("POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = valueOrDefault("POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = valueOrDefault("POSTGRES_DB", cfg.Repository.PostgresDB)

	cfg.Cache.Type = valueOrDefault("CACHE_TYPE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = valueOrDefault("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = valueOrDefault("REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.EventBus.Type = valueOrDefault("BUS_TYPE", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = valueOrDefault("NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = valueOrDefault("NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.EventBus.NATSQueueGroup = valueOrDefault("NATS_QUEUE_GROUP", cfg.EventBus.NATSQueueGroup)

	cfg.Tracing.Enabled = parseBoolWithDefault("TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = valueOrDefault("SERVICE_NAME", cfg.Tracing.ServiceName)

	port, err := parsePort("PORT", cfg.Server.Port)
	if err != nil {
		return err
	}
	cfg.Server.Port = port

	if cfg.Scoring.Timeout, err = parseDurationWithDefault("SCORING_TIMEOUT", cfg.Scoring.Timeout); err != nil {
		return err
	}
	if cfg.Analysis.MediumThreshold, err = parseFloatWithDefault("MEDIUM_THRESHOLD", cfg.Analysis.MediumThreshold); err != nil {
		return err
	}
	if cfg.Analysis.HighThreshold, err = parseFloatWithDefault("HIGH_THRESHOLD", cfg.Analysis.HighThreshold); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if _, err := risk.NewClassifier(cfg.Analysis.MediumThreshold, cfg.Analysis.HighThreshold); err != nil {
		errs = append(errs, err)
	}

	switch cfg.Scoring.Mode {
	case domain.ScoringRemote:
		if cfg.Scoring.Endpoint == "" {
			errs = append(errs, errors.New("scoring.endpoint is required in remote mode"))
		}
	case domain.ScoringExpression:
		if strings.TrimSpace(cfg.Scoring.Expression) == "" {
			errs = append(errs, errors.New("scoring.expression is required in expression mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown scoring mode %q", cfg.Scoring.Mode))
	}

	if cfg.Analysis.PageSize < 0 || cfg.Analysis.TopN < 0 || cfg.Analysis.DemoCount < 0 || cfg.Analysis.MaxDemoCount < 0 {
		errs = append(errs, errors.New("analysis sizes must not be negative"))
	}
	if cfg.Analysis.MaxDemoCount > 0 && cfg.Analysis.DemoCount > cfg.Analysis.MaxDemoCount {
		errs = append(errs, fmt.Errorf("analysis.demoCount %d exceeds analysis.maxDemoCount %d",
			cfg.Analysis.DemoCount, cfg.Analysis.MaxDemoCount))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", cfg.Server.Port))
	}

	return errors.Join(errs...)
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseFloatWithDefault(key string, fallback float64) (float64, error) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s value %q: %w", EnvPrefix, key, v, err)
	}
	return f, nil
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s%s value %q: %w", EnvPrefix, key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
