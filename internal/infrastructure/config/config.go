package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CPI       CPIConfig
	Pipeline  PipelineConfig
	Fetch     FetchConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CPIConfig selects the CPI dataset. Source is "embedded", a file path or
// an http(s) URL; Format is json, yaml, toml or empty to detect.
type CPIConfig struct {
	Source string `envconfig:"CPI_SOURCE" default:"embedded"`
	Format string `envconfig:"CPI_FORMAT"`
}

// PipelineConfig holds the defaults applied to newly opened pages.
type PipelineConfig struct {
	Enabled         bool          `envconfig:"PIPELINE_ENABLED" default:"true"`
	Swap            bool          `envconfig:"PIPELINE_SWAP" default:"false"`
	MaxNodes        int           `envconfig:"PIPELINE_MAX_NODES" default:"250000"`
	FrameInterval   time.Duration `envconfig:"PIPELINE_FRAME_INTERVAL" default:"16ms"`
	MaxPages        int           `envconfig:"PIPELINE_MAX_PAGES" default:"1000"`
	DisabledDomains []string      `envconfig:"PIPELINE_DISABLED_DOMAINS"`
	Sanitize        bool          `envconfig:"PIPELINE_SANITIZE" default:"true"`
}

// FetchConfig holds outbound HTTP configuration for page and dataset
// fetches. RequestsPerSecond of 0 disables client-side limiting.
type FetchConfig struct {
	Timeout           time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	Retries           int           `envconfig:"FETCH_RETRIES" default:"3"`
	UserAgent         string        `envconfig:"FETCH_USER_AGENT" default:"InflationLens/1.0"`
	RequestsPerSecond float64       `envconfig:"FETCH_RPS" default:"0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Pipeline.DisabledDomains = compact(cfg.Pipeline.DisabledDomains)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CPI: CPIConfig{
			Source: "embedded",
		},
		Pipeline: PipelineConfig{
			Enabled:       true,
			MaxNodes:      250000,
			FrameInterval: 16 * time.Millisecond,
			MaxPages:      1000,
			Sanitize:      true,
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			Retries:   3,
			UserAgent: "InflationLens/1.0",
		},
	}
}

// Validate rejects values that would leave the service unusable.
func (c *Config) Validate() error {
	if c.Pipeline.MaxNodes <= 0 {
		return fmt.Errorf("PIPELINE_MAX_NODES must be positive, got %d", c.Pipeline.MaxNodes)
	}
	if c.Pipeline.MaxPages <= 0 {
		return fmt.Errorf("PIPELINE_MAX_PAGES must be positive, got %d", c.Pipeline.MaxPages)
	}
	if c.Pipeline.FrameInterval <= 0 {
		return fmt.Errorf("PIPELINE_FRAME_INTERVAL must be positive, got %s", c.Pipeline.FrameInterval)
	}
	if c.Fetch.Retries < 0 {
		return fmt.Errorf("FETCH_RETRIES must not be negative, got %d", c.Fetch.Retries)
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return fmt.Errorf("FETCH_RPS must not be negative, got %v", c.Fetch.RequestsPerSecond)
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
