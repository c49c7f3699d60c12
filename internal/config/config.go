// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache, rate limits and change stream (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Stripe
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY,required,notEmpty"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required,notEmpty"`
	StripeTolerance     time.Duration `env:"STRIPE_SIGNATURE_TOLERANCE" envDefault:"5m"`

	// Argon2id hash of the bearer key the app backend presents on /api/v1.
	ServiceKeyHash string `env:"SERVICE_KEY_HASH,required,notEmpty"`

	// Credits
	DailyCreditAllowance int `env:"DAILY_CREDIT_ALLOWANCE" envDefault:"5"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Per-user token bucket on the gate endpoint
	RateLimitGateEnabled bool `env:"RATE_LIMIT_GATE_ENABLED" envDefault:"true"`
	RateLimitGateRPM     int  `env:"RATE_LIMIT_GATE_RPM" envDefault:"120"`
	RateLimitGateBurst   int  `env:"RATE_LIMIT_GATE_BURST" envDefault:"20"`

	// Per-address token bucket in front of service key checks on /api/v1
	RateLimitIPEnabled bool `env:"RATE_LIMIT_IP_ENABLED" envDefault:"true"`
	RateLimitIPRPS     int  `env:"RATE_LIMIT_IP_RPS" envDefault:"50"`
	RateLimitIPBurst   int  `env:"RATE_LIMIT_IP_BURST" envDefault:"100"`

	EntitlementCacheTTL time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"60s"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks invariants env tags cannot express.
func (c *Config) Validate() error {
	if c.DailyCreditAllowance < 1 {
		return fmt.Errorf("DAILY_CREDIT_ALLOWANCE must be at least 1, got %d", c.DailyCreditAllowance)
	}
	if c.RateLimitGateEnabled && (c.RateLimitGateRPM < 1 || c.RateLimitGateBurst < 1) {
		return errors.New("RATE_LIMIT_GATE_RPM and RATE_LIMIT_GATE_BURST must be positive")
	}
	if c.RateLimitIPEnabled && (c.RateLimitIPRPS < 1 || c.RateLimitIPBurst < 1) {
		return errors.New("RATE_LIMIT_IP_RPS and RATE_LIMIT_IP_BURST must be positive")
	}
	return nil
}

// Load parses environment variables and returns a Config.
// A .env file in the working directory is read first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
