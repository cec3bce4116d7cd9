// Package config loads the keeper configuration file.
//
// Configuration is a single YAML file. Every field has a working default so
// a missing file yields a usable local-only setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full keeper configuration.
type Config struct {
	// AccountID scopes every entity and queue entry.
	AccountID string `yaml:"account_id"`

	// DatabasePath locates the local SQLite store.
	DatabasePath string `yaml:"database_path"`

	Remote Remote `yaml:"remote"`
	Sync   Sync   `yaml:"sync"`
	Log    Log    `yaml:"log"`
}

// Remote configures the backend connection.
type Remote struct {
	// BaseURL is the backend API root. Empty means offline-only operation.
	BaseURL string `yaml:"base_url"`

	// Timeout caps every remote call.
	Timeout time.Duration `yaml:"timeout"`
}

// Sync tunes the executor and the review coalescer.
type Sync struct {
	// DrainInterval is how often the executor sweeps the queue.
	DrainInterval time.Duration `yaml:"drain_interval"`

	// BackoffMin and BackoffMax bound the retry backoff.
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`

	// ReviewDebounce is the review-flag recompute window.
	ReviewDebounce time.Duration `yaml:"review_debounce"`
}

// Log configures structured logging.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		AccountID:    "default",
		DatabasePath: "keeper.db",
		Remote: Remote{
			Timeout: 10 * time.Second,
		},
		Sync: Sync{
			DrainInterval:  30 * time.Second,
			BackoffMin:     1 * time.Second,
			BackoffMax:     5 * time.Minute,
			ReviewDebounce: 150 * time.Millisecond,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path, overlaying the file's values on the defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("account_id must not be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.Sync.BackoffMin <= 0 || c.Sync.BackoffMax < c.Sync.BackoffMin {
		return fmt.Errorf("backoff bounds must satisfy 0 < min <= max")
	}
	if c.Sync.DrainInterval <= 0 {
		return fmt.Errorf("drain_interval must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// DefaultPath returns the conventional config location: $KEEPER_CONFIG if
// set, otherwise keeper.yaml next to the database in the working directory.
func DefaultPath() string {
	if p := os.Getenv("KEEPER_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(".", "keeper.yaml")
}
