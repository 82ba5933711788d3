// Package config loads the facilitator service's configuration from an
// optional YAML file with environment variable overrides, following the
// same file+env layering as the payment-server configs in the corpus.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can express it as "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration expressed as a Go-style string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// ServerConfig configures the facilitator HTTP listener.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	RoutePrefix         string   `yaml:"route_prefix"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig configures the facilitator's request-rate limiting.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Limit   int      `yaml:"limit"`
	Window  Duration `yaml:"window"`
}

// CircuitBreakerConfig configures the remote facilitator HTTP client's
// gobreaker trip thresholds (see facilitator/httpclient.go).
type CircuitBreakerConfig struct {
	Enabled             bool     `yaml:"enabled"`
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
}

// Config aggregates facilitator service configuration from file and
// environment variables. Signer credentials are never read from the YAML
// file - they only ever come from the environment (see env.go).
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// Load reads an optional YAML file at path, an optional .env file, then
// applies environment variable overrides on top.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8402",
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{15 * time.Second},
			IdleTimeout:  Duration{60 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   120,
			Window:  Duration{1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             true,
			MaxRequests:         3,
			Interval:            Duration{60 * time.Second},
			Timeout:             Duration{30 * time.Second},
			ConsecutiveFailures: 5,
		},
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("X402_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("X402_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("X402_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("X402_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Limit = n
		}
	}
}
