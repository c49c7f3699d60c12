package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/lampstand/entitlements/internal/auth"
)

// KeyVerifier checks a presented service key.
type KeyVerifier interface {
	Verify(key string) bool
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger   *slog.Logger
	Verifier KeyVerifier
}

// ServiceAuth returns a middleware that requires the service bearer key.
// On success the key fingerprint is attached to the request context.
func ServiceAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractBearer(r)
			reason := ""
			switch {
			case key == "":
				reason = "missing_key"
			case !cfg.Verifier.Verify(key):
				reason = "invalid_key"
			}

			if reason != "" {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			ctx := auth.ContextWithCaller(r.Context(), auth.Fingerprint(key))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearer returns the token from "Authorization: Bearer <key>".
func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeAuthError uses one message for all auth failures.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="entitlements"`)
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing service key")
}
