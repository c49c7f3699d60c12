// Package main is the entrypoint for the entitlements API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lampstand/entitlements/internal/auth"
	"github.com/lampstand/entitlements/internal/billing"
	"github.com/lampstand/entitlements/internal/cache"
	"github.com/lampstand/entitlements/internal/config"
	"github.com/lampstand/entitlements/internal/handler"
	"github.com/lampstand/entitlements/internal/metrics"
	"github.com/lampstand/entitlements/internal/middleware"
	"github.com/lampstand/entitlements/internal/notify"
	"github.com/lampstand/entitlements/internal/repository"
	"github.com/lampstand/entitlements/internal/server"
	"github.com/lampstand/entitlements/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	billingCfg := billing.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Tolerance:     cfg.StripeTolerance,
	}
	if err := billingCfg.Validate(); err != nil {
		logger.Error("invalid billing config", "error", err)
		os.Exit(1)
	}
	verifier, err := billing.NewVerifier(billingCfg)
	if err != nil {
		logger.Error("failed to create webhook verifier", "error", err)
		os.Exit(1)
	}
	lookup, err := billing.NewStripeLookup(billingCfg, nil)
	if err != nil {
		logger.Error("failed to create subscription lookup", "error", err)
		os.Exit(1)
	}

	keyVerifier, err := auth.NewKeyVerifier(cfg.ServiceKeyHash)
	if err != nil {
		logger.Error("invalid SERVICE_KEY_HASH", "error", err)
		os.Exit(1)
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL, cfg.EntitlementCacheTTL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	publisher := notify.NewPublisher(cacheClient.Client(), logger, recorder)
	entitlements := service.NewEntitlementService(repo, cacheClient, publisher, cfg.DailyCreditAllowance, logger, recorder)
	processor := billing.NewProcessor(lookup, entitlements, logger, recorder)

	limiter := middleware.NewUserRateLimit(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: cacheClient,
		Enabled: cfg.RateLimitGateEnabled,
		RPM:     cfg.RateLimitGateRPM,
		Burst:   cfg.RateLimitGateBurst,
	})

	r := setupRouter(routes{
		fallback:     handler.New(),
		health:       handler.NewHealthHandler(repo, cacheClient),
		metrics:      handler.NewMetricsHandler(registry),
		billing:      handler.NewBillingHandler(verifier, processor, logger),
		gate:         handler.NewGateHandler(entitlements, limiter, logger),
		entitlements: handler.NewEntitlementHandler(entitlements, logger),
		keyVerifier:  keyVerifier,
		ipLimiter:    cacheClient,
	}, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered in dependency order; shutdown runs them in reverse.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})
	srv.OnShutdown("change-publisher", publisher.Drain)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"daily_credit_allowance", cfg.DailyCreditAllowance,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "entitlements")
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type routes struct {
	fallback     *handler.Handler
	health       *handler.HealthHandler
	metrics      http.Handler
	billing      *handler.BillingHandler
	gate         *handler.GateHandler
	entitlements *handler.EntitlementHandler
	keyVerifier  middleware.KeyVerifier
	ipLimiter    middleware.IPLimiter
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(rt routes, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, cfg.IsDevelopment()))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))

	r.Get("/healthz", rt.health.Healthz)
	r.Get("/readyz", rt.health.Readyz)
	r.Method(http.MethodGet, "/metrics", rt.metrics)

	// Stripe authenticates with its signature, not the service key.
	r.Post("/webhooks/stripe", rt.billing.StripeWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitIP(middleware.IPRateLimitConfig{
			Logger:  logger,
			Limiter: rt.ipLimiter,
			Enabled: cfg.RateLimitIPEnabled,
			RPS:     cfg.RateLimitIPRPS,
			Burst:   cfg.RateLimitIPBurst,
		}))
		r.Use(middleware.ServiceAuth(middleware.AuthConfig{
			Logger:   logger,
			Verifier: rt.keyVerifier,
		}))
		r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

		r.Post("/gate", rt.gate.Gate)

		r.Route("/entitlements/{user_id}", func(r chi.Router) {
			r.Get("/", rt.entitlements.Get)
			r.Post("/onboarding-ack", rt.entitlements.AcknowledgeOnboarding)
			r.Get("/usage", rt.entitlements.Usage)
		})
	})

	r.NotFound(rt.fallback.NotFound)
	r.MethodNotAllowed(rt.fallback.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
