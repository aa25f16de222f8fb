// Package config loads process configuration from DRAGONFARM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"dragonfarm/internal/blob"
	"dragonfarm/internal/core"
)

// Prefix is prepended to every environment variable name.
const Prefix = "DRAGONFARM_"

// Config is the full process configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	Storage StorageConfig `envPrefix:"STORAGE_"`
	Blob    blob.Config   `envPrefix:"BLOB_"`

	// SeedFile overrides the embedded trait catalog and starter dragons.
	SeedFile string `env:"SEED_FILE"`

	Coordinator CoordinatorConfig `envPrefix:"COORDINATOR_"`

	RarityWeight float64       `env:"RARITY_WEIGHT" envDefault:"1"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"10m"`

	Auth AuthConfig `envPrefix:"JWT_"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	TraceStdout bool `env:"TRACE_STDOUT"`
}

// StorageConfig selects the relational backend.
type StorageConfig struct {
	Driver      core.StorageDriver `env:"DRIVER" envDefault:"sqlite"`
	SQLitePath  string             `env:"SQLITE_PATH" envDefault:"dragonfarm.db"`
	PostgresDSN string             `env:"POSTGRES_DSN"`
}

// Core converts to the storage options understood by core.OpenPersistentStore.
func (s StorageConfig) Core() core.StorageConfig {
	return core.StorageConfig{Driver: s.Driver, SQLitePath: s.SQLitePath, PostgresDSN: s.PostgresDSN}
}

// CoordinatorConfig sizes the breeding worker pool and its commit retry.
type CoordinatorConfig struct {
	Workers        int           `env:"WORKERS" envDefault:"4"`
	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"64"`
	CommitAttempts int           `env:"COMMIT_ATTEMPTS" envDefault:"3"`
	CommitBackoff  time.Duration `env:"COMMIT_BACKOFF" envDefault:"50ms"`
}

// AuthConfig configures bearer token validation at the HTTP boundary.
type AuthConfig struct {
	Secret   string        `env:"SECRET"`
	Issuer   string        `env:"ISSUER" envDefault:"dragonfarm"`
	Audience string        `env:"AUDIENCE" envDefault:"dragonfarm-api"`
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case core.StorageMemory:
	case core.StorageSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite storage requires STORAGE_SQLITE_PATH"))
		}
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires STORAGE_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 blob driver requires BLOB_S3_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.Coordinator.Workers < 1 {
		errs = append(errs, fmt.Errorf("coordinator workers must be positive, got %d", c.Coordinator.Workers))
	}
	if c.Coordinator.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("coordinator queue size must be positive, got %d", c.Coordinator.QueueSize))
	}
	if c.Coordinator.CommitAttempts < 1 {
		errs = append(errs, fmt.Errorf("commit attempts must be positive, got %d", c.Coordinator.CommitAttempts))
	}
	if c.Coordinator.CommitBackoff < 0 {
		errs = append(errs, errors.New("commit backoff must not be negative"))
	}
	if c.RarityWeight <= 0 {
		errs = append(errs, fmt.Errorf("rarity weight must be positive, got %v", c.RarityWeight))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache ttl must not be negative"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}
