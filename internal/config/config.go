// Package config loads tutor configuration. Values are layered: built-in
// defaults, then an optional YAML file, then TUTOR_* environment variables
// (which a .env file may supply). Command-line flags are applied last by
// the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-tutor/pkg/loopback"
	"github.com/teslashibe/go-tutor/pkg/session"
	"github.com/teslashibe/go-tutor/pkg/web"
)

// EnvConfigFile names the YAML file to load when no path is given.
const EnvConfigFile = "TUTOR_CONFIG"

// Config is the complete tutor configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	// Default: "info"
	LogLevel string `yaml:"log_level" json:"log_level"`

	// MetricsNamespace prefixes every exported metric.
	// Default: "tutor"
	MetricsNamespace string `yaml:"metrics_namespace" json:"metrics_namespace"`

	Session   session.Config  `yaml:",inline" json:"session"`
	Dashboard web.Config      `yaml:"dashboard" json:"dashboard"`
	Loopback  loopback.Config `yaml:"loopback" json:"loopback"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		MetricsNamespace: "tutor",
		Session:          session.DefaultConfig(),
		Dashboard:        web.DefaultConfig(),
		Loopback:         loopback.DefaultConfig(),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	if c.MetricsNamespace == "" {
		return errors.New("metrics_namespace is required")
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Dashboard.Validate(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	if err := c.Loopback.Validate(); err != nil {
		return fmt.Errorf("loopback: %w", err)
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path and the
// environment. An empty path falls back to $TUTOR_CONFIG; if that is
// empty too no file is read.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := Decode(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode overlays YAML data onto cfg. Unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// LoadDotEnv loads variables from a .env file into the process
// environment. Variables that are already set win. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
