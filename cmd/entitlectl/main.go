// Command entitlectl is the operator tool for the entitlements service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/lampstand/entitlements/internal/cache"
	"github.com/lampstand/entitlements/internal/model"
	"github.com/lampstand/entitlements/internal/notify"
	"github.com/lampstand/entitlements/internal/repository"
	"github.com/lampstand/entitlements/internal/service"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type ctlConfig struct {
	DatabaseURL          string        `env:"DATABASE_URL"`
	RedisURL             string        `env:"REDIS_URL"`
	DailyCreditAllowance int           `env:"DAILY_CREDIT_ALLOWANCE" envDefault:"5"`
	EntitlementCacheTTL  time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"60s"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"warn"`
}

// entitlementOps is what the data commands need from the service.
type entitlementOps interface {
	Get(ctx context.Context, userID string) (*model.Entitlement, error)
	Apply(ctx context.Context, userID string, target model.Target, src model.ChangeSource) (*model.Entitlement, error)
	Usage(ctx context.Context, userID string, limit int) ([]*model.CreditUsage, error)
	ResetDailyCredits(ctx context.Context) (int64, error)
}

type changeReader interface {
	Recent(ctx context.Context, count int64) ([]model.EntitlementChange, error)
}

// backend bundles opened dependencies. changes is nil without REDIS_URL.
type backend struct {
	entitlements entitlementOps
	changes      changeReader
	close        func(ctx context.Context)
}

type openFunc func(ctx context.Context) (*backend, error)

func main() {
	if err := newRootCmd(openBackend).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*ctlConfig, error) {
	_ = godotenv.Load()
	var cfg ctlConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func openBackend(ctx context.Context) (*backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	b := &backend{close: func(context.Context) { repo.Close() }}

	// Without Redis, writes skip cache invalidation and change notifications.
	var (
		entCache  service.EntitlementCache
		publisher service.ChangePublisher
	)
	if cfg.RedisURL != "" {
		c, err := cache.New(ctx, cfg.RedisURL, cfg.EntitlementCacheTTL)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		pub := notify.NewPublisher(c.Client(), logger, nil)
		entCache, publisher, b.changes = c, pub, pub
		b.close = func(ctx context.Context) {
			if err := pub.Drain(ctx); err != nil {
				logger.Warn("pending change notifications abandoned", "error", err)
			}
			_ = c.Close()
			repo.Close()
		}
	}

	b.entitlements = service.NewEntitlementService(repo, entCache, publisher, cfg.DailyCreditAllowance, logger, nil)
	return b, nil
}
