// Package config loads prodcount settings from YAML, the environment and the
// build.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBackendURL is the backend used when nothing else is configured.
// Override at build time with
//
//	go build -ldflags "-X prodcount/internal/config.DefaultBackendURL=https://prod.example"
var DefaultBackendURL = "http://localhost:8000"

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "prodcount.yaml"

// Environment variables that override the file.
const (
	EnvBackendURL = "PRODCOUNT_BACKEND_URL"
	EnvLogLevel   = "PRODCOUNT_LOG_LEVEL"
)

// Config holds all prodcount configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Web     WebConfig     `yaml:"web"`
	Export  ExportConfig  `yaml:"export"`
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig configures the production records service.
type BackendConfig struct {
	// BaseURL overrides the host of every API call.
	BaseURL string `yaml:"base_url"`
	// Timeout is empty by default: requests wait as long as the backend does.
	Timeout string `yaml:"timeout"`
}

// WebConfig configures the form UI server.
type WebConfig struct {
	Port int `yaml:"port"`
}

// ExportConfig configures where the CLI saves downloaded spreadsheets.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: DefaultBackendURL,
		},
		Web: WebConfig{
			Port: 8484,
		},
		Export: ExportConfig{
			Dir: ".",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if u := os.Getenv(EnvBackendURL); u != "" {
		c.Backend.BaseURL = u
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		c.Logging.Level = lvl
	}
}

// BackendTimeout returns the request timeout, zero meaning none.
func (c *Config) BackendTimeout() time.Duration {
	if strings.TrimSpace(c.Backend.Timeout) == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Validate checks the settings that would otherwise fail at request time.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid backend base_url %q: %w", c.Backend.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid backend base_url %q: scheme must be http or https", c.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid backend base_url %q: missing host", c.Backend.BaseURL)
	}
	if c.Backend.Timeout != "" {
		if _, err := time.ParseDuration(c.Backend.Timeout); err != nil {
			return fmt.Errorf("invalid backend timeout %q: %w", c.Backend.Timeout, err)
		}
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port %d", c.Web.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q (valid: debug, info, warn, error)", c.Logging.Level)
	}
	return nil
}
