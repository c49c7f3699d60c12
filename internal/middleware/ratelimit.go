package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lampstand/entitlements/internal/cache"
)

// UserLimiter takes one token from a per-user bucket.
type UserLimiter interface {
	CheckUserRateLimit(ctx context.Context, userID string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for per-user rate limiting.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter UserLimiter
	Enabled bool
	RPM     int
	Burst   int
}

// UserRateLimit applies a token bucket keyed by the subject user. The user
// id lives in the request body, so handlers call Allow after decoding it.
type UserRateLimit struct {
	cfg RateLimitConfig
}

// NewUserRateLimit creates a UserRateLimit. A nil limiter disables it.
func NewUserRateLimit(cfg RateLimitConfig) *UserRateLimit {
	if cfg.Limiter == nil {
		cfg.Enabled = false
	}
	return &UserRateLimit{cfg: cfg}
}

// Allow takes a token for userID. When it returns false a 429 response has
// already been written. Limiter errors fail open.
func (l *UserRateLimit) Allow(w http.ResponseWriter, r *http.Request, userID string) bool {
	if l == nil || !l.cfg.Enabled {
		return true
	}

	result, err := l.cfg.Limiter.CheckUserRateLimit(r.Context(), userID, l.cfg.RPM, l.cfg.Burst)
	if err != nil {
		l.cfg.Logger.Error("rate limit check failed",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return true
	}

	setRateLimitHeaders(w, l.cfg.RPM, result.Remaining, result.ResetAt)
	if result.Allowed {
		return true
	}

	l.cfg.Logger.Warn("rate limit exceeded",
		slog.String("user_id", userID),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
		fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", int(result.RetryAfter.Seconds())))
	return false
}

// IPLimiter takes one token from a per-address bucket.
type IPLimiter interface {
	CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*cache.RateLimitResult, error)
}

// IPRateLimitConfig holds configuration for per-address rate limiting.
type IPRateLimitConfig struct {
	Logger  *slog.Logger
	Limiter IPLimiter
	Enabled bool
	RPS     int
	Burst   int
}

// RateLimitIP limits requests per client address. It sits in front of
// ServiceAuth so unauthenticated floods are turned away before key checks.
// Expects chi's RealIP to have run. Limiter errors fail open.
func RateLimitIP(cfg IPRateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			result, err := cfg.Limiter.CheckIPRateLimit(r.Context(), ip, cfg.RPS, cfg.Burst)
			if err != nil {
				cfg.Logger.Error("IP rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "ip"),
					slog.String("ip", ip),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
					fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", int(result.RetryAfter.Seconds())))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request's address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	if limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}
