// Package config holds the application configuration: defaults, optional
// YAML overrides, and the logger constructor used by every command.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is populated from defaults, then an optional YAML file, then flags.
// Service is a UUID override; empty selects the serial-port profile.
// PairingPolicy is "all" or "confirm-only".
type Config struct {
	LogLevel       string `yaml:"log_level" default:"info"`
	ConnectTimeout string `yaml:"connect_timeout" default:"30s"`
	Service        string `yaml:"service" default:""`
	PairingPolicy  string `yaml:"pairing_policy" default:"all"`
	TTYSymlink     string `yaml:"tty_symlink" default:""`
	BufferSize     int    `yaml:"buffer_size" default:"4096"`
}

// Timeout parses the configured connect timeout.
func (c *Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid connect_timeout %q: %w", c.ConnectTimeout, err)
	}
	return d, nil
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file over the defaults. A missing path is not an
// error; callers pass the path of an optional per-user file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// NewLogger builds a logger honoring the configured level.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}
