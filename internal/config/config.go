package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
	DriverNone     = "none"
)

// Load reads ~/.assay/config.yaml, applies ASSAY_* environment overrides and
// validates the result.
func Load() (*LocalConfig, error) {
	cfg, err := LoadLocalConfig()
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides configuration from environment variables
func ApplyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt("ASSAY_PORT", cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv("ASSAY_BIND", cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv("ASSAY_LOG_LEVEL", cfg.Daemon.LogLevel)

	cfg.Storage.Driver = getEnv("ASSAY_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.SQLitePath = getEnv("ASSAY_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresDSN = getEnv("ASSAY_DATABASE_URL", cfg.Storage.PostgresDSN)
	cfg.Storage.RetentionDays = getEnvInt("ASSAY_RETENTION_DAYS", cfg.Storage.RetentionDays)

	cfg.Queue.Enabled = getEnvBool("ASSAY_QUEUE_ENABLED", cfg.Queue.Enabled)
	cfg.Queue.URL = getEnv("ASSAY_RABBITMQ_URL", cfg.Queue.URL)
	cfg.Queue.Workers = getEnvInt("ASSAY_QUEUE_WORKERS", cfg.Queue.Workers)

	cfg.Cache.Enabled = getEnvBool("ASSAY_CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.RedisAddr = getEnv("ASSAY_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("ASSAY_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.Limits.RequestsPerSecond = getEnvInt("ASSAY_RATE_LIMIT", cfg.Limits.RequestsPerSecond)
	cfg.Limits.MaxConcurrentAssessments = getEnvInt("ASSAY_MAX_CONCURRENT", cfg.Limits.MaxConcurrentAssessments)

	cfg.ExercisesPath = getEnv("ASSAY_EXERCISES_PATH", cfg.ExercisesPath)
}

// Validate rejects settings the daemon cannot run with
func (c *LocalConfig) Validate() error {
	var problems []string

	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		problems = append(problems, fmt.Sprintf("daemon.port %d out of range", c.Daemon.Port))
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			problems = append(problems, "storage.sqlite_path must be set")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "postgres storage requires a DSN (secrets.yaml or ASSAY_DATABASE_URL)")
		}
	case DriverFile:
		if c.Storage.FilePath == "" {
			problems = append(problems, "storage.file_path must be set")
		}
	case DriverNone:
	default:
		problems = append(problems, fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Storage.RetentionDays < 0 {
		problems = append(problems, "storage.retention_days must not be negative")
	}

	if c.Queue.Enabled && c.Queue.Workers <= 0 {
		problems = append(problems, "queue.workers must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTLSeconds <= 0 {
		problems = append(problems, "cache.ttl_seconds must be positive")
	}
	if c.Limits.RequestsPerSecond <= 0 {
		problems = append(problems, "limits.requests_per_second must be positive")
	}
	if c.Limits.MaxConcurrentAssessments <= 0 {
		problems = append(problems, "limits.max_concurrent_assessments must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
