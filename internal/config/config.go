// Package config loads codeatlas settings.
//
// Settings come from ~/.config/codeatlas/config.yaml (XDG_CONFIG_HOME is
// honoured), then CODEATLAS_* environment variables, then command-line flags
// applied by main.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selects how job progress is tracked.
const (
	TransportAuto = "auto"
	TransportPoll = "poll"
	TransportPush = "push"
)

// Config is the top-level configuration.
type Config struct {
	APIURL             string        `yaml:"api_url"`
	WSURL              string        `yaml:"ws_url,omitempty"` // empty disables push
	Transport          string        `yaml:"transport,omitempty"`
	MaxTransportErrors int           `yaml:"max_transport_errors,omitempty"`
	RequestTimeout     time.Duration `yaml:"request_timeout,omitempty"`
	LogDir             string        `yaml:"log_dir,omitempty"`
	LogLevel           string        `yaml:"log_level,omitempty"`
	DBPath             string        `yaml:"db_path,omitempty"`
}

// Default returns a Config pointing at a local backend.
func Default() Config {
	return Config{
		APIURL:             "http://localhost:8000",
		Transport:          TransportAuto,
		MaxTransportErrors: 3,
		RequestTimeout:     30 * time.Second,
		LogDir:             filepath.Join(DataDir(), "logs"),
		LogLevel:           "info",
		DBPath:             filepath.Join(DataDir(), "codeatlas.db"),
	}
}

// ConfigDir returns the XDG config directory for codeatlas.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "codeatlas")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "codeatlas")
}

// DataDir returns the XDG data directory for codeatlas.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "codeatlas")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "codeatlas")
}

// Path returns the full path to config.yaml.
func Path() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the default config file and applies environment overrides.
func Load() (Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads config from path. A missing file yields the defaults.
// Environment overrides are applied last.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CODEATLAS_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("CODEATLAS_WS_URL"); v != "" {
		c.WSURL = v
	}
	if v := os.Getenv("CODEATLAS_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("CODEATLAS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CODEATLAS_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CODEATLAS_MAX_TRANSPORT_ERRORS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CODEATLAS_MAX_TRANSPORT_ERRORS: %w", err)
		}
		c.MaxTransportErrors = n
	}
	return nil
}

// Validate checks field values and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url must be set")
	}
	switch c.Transport {
	case "":
		c.Transport = TransportAuto
	case TransportAuto, TransportPoll:
	case TransportPush:
		if c.WSURL == "" {
			return fmt.Errorf("transport %q requires ws_url", c.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q (want auto, poll or push)", c.Transport)
	}
	if c.MaxTransportErrors <= 0 {
		c.MaxTransportErrors = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return nil
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
