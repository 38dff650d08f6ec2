package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when the config file omits a value.
const (
	DefaultHistoryWindow = 50
	DefaultUserCacheTTL  = 30 // days
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeAddress  = "firestore.googleapis.com:443"
	DefaultSearchLimit   = 20
)

// Config represents the global ~/.courier/config.toml.
type Config struct {
	DefaultAccount string `toml:"default_account"`

	Remote RemoteConfig `toml:"remote"`
	Sync   SyncConfig   `toml:"sync"`
}

// RemoteConfig locates the Firestore backend.
type RemoteConfig struct {
	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	// HistoryWindow is how many messages per conversation a full sync pulls.
	HistoryWindow int `toml:"history_window"`
	// UserCacheTTLDays is how long cached user snapshots stay before pruning.
	UserCacheTTLDays int `toml:"user_cache_ttl_days"`
	// ProbeIntervalSeconds is the connectivity probe period.
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
	// ProbeAddress is the host:port the connectivity probe dials.
	ProbeAddress string `toml:"probe_address"`
	// SearchLimit caps user directory search results.
	SearchLimit int `toml:"search_limit"`
}

// Load reads config from the given path and applies defaults.
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

// LoadOrDefault reads config from path, falling back to a default config
// when the file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
		cfg.applyDefaults()
	}
	return cfg
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

// ProbeInterval returns the configured probe period as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeIntervalSeconds) * time.Second
}

// UserCacheTTL returns the configured snapshot retention as a duration.
func (c *Config) UserCacheTTL() time.Duration {
	return time.Duration(c.Sync.UserCacheTTLDays) * 24 * time.Hour
}

func (c *Config) applyDefaults() {
	if c.Sync.HistoryWindow <= 0 {
		c.Sync.HistoryWindow = DefaultHistoryWindow
	}
	if c.Sync.UserCacheTTLDays <= 0 {
		c.Sync.UserCacheTTLDays = DefaultUserCacheTTL
	}
	if c.Sync.ProbeIntervalSeconds <= 0 {
		c.Sync.ProbeIntervalSeconds = int(DefaultProbeInterval / time.Second)
	}
	if c.Sync.ProbeAddress == "" {
		c.Sync.ProbeAddress = DefaultProbeAddress
	}
	if c.Sync.SearchLimit <= 0 {
		c.Sync.SearchLimit = DefaultSearchLimit
	}
}
