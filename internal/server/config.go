// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimitConfig defines the parameters for per-connection event rate
// limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Addr             string        `env:"SERVER_ADDR"`
	DatabasePath     string        `env:"DATABASE_PATH"`
	UploadsDir       string        `env:"UPLOADS_DIR"`
	JWTSecret        string        `env:"JWT_SECRET"`
	TokenTTL         time.Duration `env:"TOKEN_TTL"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize   int64         `env:"MAX_MESSAGE_SIZE"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT"`
	RateLimit        RateLimitConfig
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		DatabasePath: "echat.db",
		UploadsDir:   "uploads",
		JWTSecret:    "supersecretkey-change-in-production",
		TokenTTL:     30 * 24 * time.Hour,
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:8080",
		},
		MaxMessageSize:   64 * 1024,
		HandshakeTimeout: 10 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset.
func NewConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.sanitize()
	return cfg, nil
}

// sanitize backfills invalid or missing values with safe defaults.
func (c *Config) sanitize() {
	def := DefaultConfig()

	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.UploadsDir == "" {
		c.UploadsDir = def.UploadsDir
	}
	if c.JWTSecret == "" {
		c.JWTSecret = def.JWTSecret
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = def.TokenTTL
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
}
