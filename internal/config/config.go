package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Splio      SplioConfig      `yaml:"splio"`
	Sync       SyncConfig       `yaml:"sync"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Entities   EntityMap        `yaml:"entities"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SplioConfig contains the Splio API connection settings.
// Universe, APIKey and TriggerKey are env-only and never read from YAML.
type SplioConfig struct {
	Scheme     string `yaml:"scheme"`
	Server     string `yaml:"server"`
	Universe   string `yaml:"-"`
	APIKey     string `yaml:"-"`
	TriggerKey string `yaml:"-"`
}

// SyncConfig contains sync engine settings.
type SyncConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	WorkerInterval Duration `yaml:"worker_interval"`
	WorkerBatch    int      `yaml:"worker_batch"`
}

// AuthConfig contains authentication settings for the local REST API.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DeadLetterConfig contains S3-compatible dead-letter archive settings.
// An empty bucket disables archiving.
type DeadLetterConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	UseSSL    *bool  `yaml:"use_ssl"`
}

// EntityConfig maps one Splio entity type onto a local record type.
type EntityConfig struct {
	Label       string `yaml:"label"`
	LocalType   string `yaml:"local_type"`
	LocalBundle string `yaml:"local_bundle"`
	KeyField    string `yaml:"key_field"`
}

// EntityMap holds the admin-configured Splio entity mappings, keyed by
// Splio entity type name (contacts, products, receipts, order_lines,
// stores, contacts_lists).
type EntityMap map[string]EntityConfig

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("SPLIOSYNC_CONFIG_PATH", "config/spliosync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/spliosync.db",
		},
		Splio: SplioConfig{
			Scheme: "https",
		},
		Sync: SyncConfig{
			Concurrency:    10,
			WorkerInterval: Duration(1 * time.Minute),
			WorkerBatch:    50,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Entities: EntityMap{},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("SPLIOSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SPLIOSYNC_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("SPLIOSYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("SPLIOSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("SPLIOSYNC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Splio connection
	if v := os.Getenv("SPLIO_SERVER"); v != "" {
		cfg.Splio.Server = v
	}
	if v := os.Getenv("SPLIO_SCHEME"); v != "" {
		cfg.Splio.Scheme = v
	}
	if v := os.Getenv("SPLIO_UNIVERSE"); v != "" {
		cfg.Splio.Universe = v
	}
	if v := os.Getenv("SPLIO_API_KEY"); v != "" {
		cfg.Splio.APIKey = v
	}
	if v := os.Getenv("SPLIO_TRIGGER_KEY"); v != "" {
		cfg.Splio.TriggerKey = v
	}

	// Auth
	if v := os.Getenv("SPLIOSYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Sync engine
	if v := os.Getenv("SPLIOSYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Concurrency = n
		}
	}
	if v := os.Getenv("SPLIOSYNC_WORKER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.WorkerInterval = Duration(d)
		}
	}
	if v := os.Getenv("SPLIOSYNC_WORKER_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.WorkerBatch = n
		}
	}

	// Log
	if v := os.Getenv("SPLIOSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SPLIOSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Dead-letter archive
	if v := os.Getenv("SPLIOSYNC_DEADLETTER_ENDPOINT"); v != "" {
		cfg.DeadLetter.Endpoint = v
	}
	if v := os.Getenv("SPLIOSYNC_DEADLETTER_BUCKET"); v != "" {
		cfg.DeadLetter.Bucket = v
	}
	if v := os.Getenv("SPLIOSYNC_DEADLETTER_REGION"); v != "" {
		cfg.DeadLetter.Region = v
	}
	if v := os.Getenv("SPLIOSYNC_DEADLETTER_ACCESS_KEY"); v != "" {
		cfg.DeadLetter.AccessKey = v
	}
	if v := os.Getenv("SPLIOSYNC_DEADLETTER_SECRET_KEY"); v != "" {
		cfg.DeadLetter.SecretKey = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (SPLIOSYNC_DEV_MODE=true), credential validation is skipped.
func (c *Config) validate() error {
	if err := c.Entities.validate(); err != nil {
		return err
	}

	// Dev mode bypasses credential validation
	if os.Getenv("SPLIOSYNC_DEV_MODE") == "true" {
		return nil
	}

	if c.Splio.Server == "" {
		return errors.New("splio server is required (SPLIO_SERVER or splio.server)")
	}
	if c.Splio.Universe == "" {
		return errors.New("SPLIO_UNIVERSE is required")
	}
	if c.Splio.APIKey == "" {
		return errors.New("SPLIO_API_KEY is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("SPLIOSYNC_API_KEY is required")
	}
	return nil
}

// knownEntityTypes is the fixed vocabulary the Splio data API understands.
var knownEntityTypes = map[string]bool{
	"contacts":       true,
	"products":       true,
	"receipts":       true,
	"order_lines":    true,
	"stores":         true,
	"contacts_lists": true,
}

func (m EntityMap) validate() error {
	for name, def := range m {
		if !knownEntityTypes[name] {
			return fmt.Errorf("unknown splio entity type %q in entities config", name)
		}
		if def.LocalType == "" && def.LocalBundle == "" && name != "contacts_lists" {
			return fmt.Errorf("entity %q: local_type or local_bundle is required", name)
		}
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
