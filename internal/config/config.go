package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Default entity collections; every collection here gets a partition in the
// local store on startup.
var DefaultCollections = []string{"leads", "contacts", "deals", "activities", "tasks"}

// Config represents the ~/.crmsync/config.toml file.
type Config struct {
	DefaultWorkspace string `toml:"default_workspace"`

	API         APIConfig         `toml:"api"`
	Sync        SyncConfig        `toml:"sync"`
	Collections CollectionsConfig `toml:"collections"`
}

// APIConfig configures the remote CRM API the engine syncs against.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	HealthPath     string `toml:"health_path"`
}

// SyncConfig holds the retry and scheduling knobs of the sync engine.
// MaxRetries and BackoffBaseSeconds are configuration, not constants:
// an item that fails MaxRetries times is abandoned, and the n-th retry
// waits BackoffBaseSeconds * 2^(n-1) seconds before becoming eligible.
type SyncConfig struct {
	IntervalSeconds      int `toml:"interval_seconds"`
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
	MaxRetries           int `toml:"max_retries"`
	BackoffBaseSeconds   int `toml:"backoff_base_seconds"`
}

// CollectionsConfig lists entity collections and seeds per-collection
// conflict strategies ("client_wins", "server_wins", "merge", "manual").
type CollectionsConfig struct {
	Names      []string          `toml:"names"`
	Strategies map[string]string `toml:"strategies"`
}

// Default returns a Config with all knobs at their documented defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8080/api",
			TimeoutSeconds: 15,
			HealthPath:     "/health",
		},
		Sync: SyncConfig{
			IntervalSeconds:      30,
			ProbeIntervalSeconds: 10,
			MaxRetries:           3,
			BackoffBaseSeconds:   2,
		},
		Collections: CollectionsConfig{
			Names: append([]string(nil), DefaultCollections...),
		},
	}
}

// Load reads config from the given path and fills unset knobs with defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default() when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// RequestTimeout returns the remote call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// SyncInterval returns the periodic drain interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeIntervalSeconds) * time.Second
}

// BackoffBase returns the base retry delay as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Sync.BackoffBaseSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = def.API.TimeoutSeconds
	}
	if c.API.HealthPath == "" {
		c.API.HealthPath = def.API.HealthPath
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = def.Sync.IntervalSeconds
	}
	if c.Sync.ProbeIntervalSeconds <= 0 {
		c.Sync.ProbeIntervalSeconds = def.Sync.ProbeIntervalSeconds
	}
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = def.Sync.MaxRetries
	}
	if c.Sync.BackoffBaseSeconds <= 0 {
		c.Sync.BackoffBaseSeconds = def.Sync.BackoffBaseSeconds
	}
	if len(c.Collections.Names) == 0 {
		c.Collections.Names = append([]string(nil), def.Collections.Names...)
	}
}
