package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelRaw string `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel    slog.Level

	StoreBackend string `env:"STORE_BACKEND" envDefault:"redis"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"dialogue.db"`

	// NPCProfile is a YAML cast file; empty uses the embedded default.
	NPCProfile string `env:"NPC_PROFILE"`

	ClassifierURL     string        `env:"CLASSIFIER_URL"`
	ClassifierTimeout time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"5s"`

	CommitAttempts int           `env:"COMMIT_ATTEMPTS" envDefault:"3"`
	SlotLeaseTTL   time.Duration `env:"SLOT_LEASE_TTL" envDefault:"30s"`
	SlotBusyPolicy string        `env:"SLOT_BUSY_POLICY" envDefault:"fail"`

	// DiceSeed of 0 means a random seed is drawn at startup.
	DiceSeed int64 `env:"DICE_SEED"`

	WorkerID          string `env:"WORKER_ID"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" envDefault:"4"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.SlotBusyPolicy = strings.ToLower(strings.TrimSpace(cfg.SlotBusyPolicy))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env.Parse cannot.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (want memory, redis or sqlite)", c.StoreBackend)
	}
	if c.StoreBackend == BackendRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis backend")
	}
	if c.StoreBackend == BackendSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
	}
	switch c.SlotBusyPolicy {
	case "fail", "wait":
	default:
		return fmt.Errorf("unknown SLOT_BUSY_POLICY %q (want fail or wait)", c.SlotBusyPolicy)
	}
	if c.CommitAttempts < 1 {
		return fmt.Errorf("COMMIT_ATTEMPTS must be at least 1, got %d", c.CommitAttempts)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
