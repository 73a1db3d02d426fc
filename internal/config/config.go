// Package config loads canvasbridge settings from CANVASBRIDGE_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name
const Prefix = "CANVASBRIDGE_"

// Config holds process settings. Command-line flags override these values.
type Config struct {
	Port             int    `env:"PORT" envDefault:"9001"`
	Host             string `env:"HOST"`
	HealthAddr       string `env:"HEALTH_ADDR"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	AMQPURL          string `env:"AMQP_URL"`
	AMQPQueue        string `env:"AMQP_QUEUE" envDefault:"canvasbridge.commands"`
	AMQPPrefetch     int    `env:"AMQP_PREFETCH" envDefault:"16"`
	OTelEndpoint     string `env:"OTEL_ENDPOINT"`
	SchemaValidation bool   `env:"SCHEMA_VALIDATION" envDefault:"true"`
}

// Load parses the process environment
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses environ instead of the process environment
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AMQPPrefetch <= 0 {
		return fmt.Errorf("amqp prefetch must be positive, got %d", c.AMQPPrefetch)
	}
	if c.AMQPURL != "" && c.AMQPQueue == "" {
		return fmt.Errorf("amqp queue cannot be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns the WebSocket listen address
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AMQPEnabled reports whether the broker ingress is configured
func (c Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Level returns the configured log level, info when invalid
func (c Config) Level() slog.Level {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLevel parses debug, info, warn or error
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
}
