// Package config loads and validates the PulseBoard configuration: a TOML
// file with environment-variable overrides on top. A .env file is honored
// when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration that unmarshals from TOML strings like "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level PulseBoard configuration.
type Config struct {
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	GitLab   GitLab   `toml:"gitlab"`
	Logging  Logging  `toml:"logging"`
}

// Server configures the HTTP listener and public addressing.
type Server struct {
	Addr string `toml:"addr"`
	// PublicURL is the externally reachable base URL, used when
	// registering webhooks on remote GitLab projects.
	PublicURL string `toml:"public_url"`
	// WebhookPrefix is the route prefix for inbound webhooks; the
	// connection id is appended per hook.
	WebhookPrefix string `toml:"webhook_prefix"`
}

// Database configures storage.
type Database struct {
	Path string `toml:"path"`
}

// GitLab configures auto-linking and the periodic sync job.
type GitLab struct {
	// LinkPattern is the regex that extracts task references from free
	// text. The first capture group must be the task number.
	LinkPattern string `toml:"link_pattern"`

	SyncInterval  Duration `toml:"sync_interval"`
	SyncStaleness Duration `toml:"sync_staleness"`
	SyncBatchSize int      `toml:"sync_batch_size"`
}

// Logging configures log output.
type Logging struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:          ":8080",
			PublicURL:     "http://localhost:8080",
			WebhookPrefix: "/webhooks",
		},
		Database: Database{Path: "pulseboard.db"},
		GitLab: GitLab{
			LinkPattern:   "", // empty selects the built-in PB-<n> pattern
			SyncInterval:  Duration{5 * time.Minute},
			SyncStaleness: Duration{15 * time.Minute},
			SyncBatchSize: 100,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the config file at path (optional), then applies environment
// overrides. A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from PULSEBOARD_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PULSEBOARD_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PULSEBOARD_PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
	if v := os.Getenv("PULSEBOARD_WEBHOOK_PREFIX"); v != "" {
		c.Server.WebhookPrefix = v
	}
	if v := os.Getenv("PULSEBOARD_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("PULSEBOARD_LINK_PATTERN"); v != "" {
		c.GitLab.LinkPattern = v
	}
	if v := os.Getenv("PULSEBOARD_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitLab.SyncInterval = Duration{d}
		}
	}
	if v := os.Getenv("PULSEBOARD_SYNC_STALENESS"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.GitLab.SyncStaleness = Duration{d}
		}
	}
	if v := os.Getenv("PULSEBOARD_SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.GitLab.SyncBatchSize = n
		}
	}
	if v := os.Getenv("PULSEBOARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.GitLab.SyncBatchSize <= 0 {
		return fmt.Errorf("gitlab.sync_batch_size must be positive")
	}
	if c.GitLab.SyncInterval.Duration <= 0 {
		return fmt.Errorf("gitlab.sync_interval must be positive")
	}
	return nil
}

// WebhookBaseURL returns the full public webhook prefix, e.g.
// "https://pulseboard.example.com/webhooks".
func (c *Config) WebhookBaseURL() string {
	return c.Server.PublicURL + c.Server.WebhookPrefix
}
