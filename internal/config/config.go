// Package config loads and validates the adaptive proxy's runtime settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"
)

// RoutingMode is the startup-fixed backend selection policy.
type RoutingMode string

const (
	RoundRobin   RoutingMode = "round-robin"
	AdaptiveSMA  RoutingMode = "adaptive_sma"
	AdaptiveEWMA RoutingMode = "adaptive_ewma"
)

// Valid reports whether m is one of the known routing modes.
func (m RoutingMode) Valid() bool {
	switch m {
	case RoundRobin, AdaptiveSMA, AdaptiveEWMA:
		return true
	default:
		return false
	}
}

// Config holds all configuration for the adaptive reverse proxy.
type Config struct {
	ProxyHost      string        `yaml:"proxy_host" env:"PROXY_HOST"`
	ProxyPort      int           `yaml:"proxy_port" env:"PROXY_PORT"`
	Backlog        int           `yaml:"backlog" env:"BACKLOG"`
	RoutingMode    RoutingMode   `yaml:"routing_mode" env:"ROUTING_MODE"`
	Backends       []string      `yaml:"backends" env:"BACKENDS" envSeparator:","`
	WindowSize     int           `yaml:"window_size" env:"WINDOW_SIZE"`
	EWMAAlpha      float64       `yaml:"ewma_alpha" env:"EWMA_ALPHA"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	LogFilePath    string        `yaml:"log_file_path" env:"LOG_FILE_PATH"`
	Persistent     bool          `yaml:"persistent" env:"PERSISTENT"`
	MetricsAddr    string        `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

// NewConfig loads configuration from the given YAML file (if present) and
// then overrides it with environment variables. Defaults are applied first
// so that a missing file or missing variables still produce a usable config.
func NewConfig(configPath string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	file, err := os.Open(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open config file %s: %w", configPath, err)
		}
		// Missing file: fall back to defaults and environment variables.
	} else {
		defer file.Close()
		d := yaml.NewDecoder(file)
		if err := d.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	c.ProxyHost = "0.0.0.0"
	c.ProxyPort = 9090
	c.Backlog = 1000
	c.RoutingMode = RoundRobin
	c.Backends = []string{
		"http://localhost:8081",
		"http://localhost:8082",
		"http://localhost:8083",
	}
	c.WindowSize = 3
	c.EWMAAlpha = 0.2
	c.RequestTimeout = 10 * time.Second
	c.LogFilePath = "proxy_log.csv"
	c.Persistent = true
	c.MetricsAddr = ""
}

// Validate rejects configurations that would make the routing core unsafe
// or meaningless to run.
func (c *Config) Validate() error {
	if c.ProxyPort < 1 || c.ProxyPort > 65535 {
		return fmt.Errorf("proxy_port must be between 1 and 65535, got %d", c.ProxyPort)
	}
	if c.Backlog < 1 {
		return fmt.Errorf("backlog must be positive, got %d", c.Backlog)
	}
	if !c.RoutingMode.Valid() {
		return fmt.Errorf("routing_mode must be one of round-robin, adaptive_sma, adaptive_ewma, got %q", c.RoutingMode)
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("backends must contain at least one address")
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	if c.EWMAAlpha <= 0 || c.EWMAAlpha > 1 {
		return fmt.Errorf("ewma_alpha must be in (0, 1], got %f", c.EWMAAlpha)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout)
	}
	if c.LogFilePath == "" {
		return fmt.Errorf("log_file_path must not be empty")
	}
	return nil
}

// ModeFromArg resolves the CLI positional routing-mode argument, defaulting
// to round-robin when absent, matching the original proxy's argv[1] handling.
func ModeFromArg(arg string) RoutingMode {
	if arg == "" {
		return RoundRobin
	}
	return RoutingMode(arg)
}
