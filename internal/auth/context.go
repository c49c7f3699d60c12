package auth

import (
	"context"
	"sync/atomic"
)

type contextKey string

const (
	callerContextKey contextKey = "caller"
	slotContextKey   contextKey = "caller_slot"
)

// WithCallerSlot returns a context that carries a slot ContextWithCaller
// fills in. Outer middleware installs it to learn the caller set by an
// inner one.
func WithCallerSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, slotContextKey, new(atomic.Value))
}

// ContextWithCaller records the authenticated caller's key fingerprint.
func ContextWithCaller(ctx context.Context, fingerprint string) context.Context {
	if slot, ok := ctx.Value(slotContextKey).(*atomic.Value); ok {
		slot.Store(fingerprint)
	}
	return context.WithValue(ctx, callerContextKey, fingerprint)
}

// CallerFromContext returns the caller fingerprint, or "" when the request
// was not authenticated.
func CallerFromContext(ctx context.Context) string {
	if caller, ok := ctx.Value(callerContextKey).(string); ok {
		return caller
	}
	if slot, ok := ctx.Value(slotContextKey).(*atomic.Value); ok {
		caller, _ := slot.Load().(string)
		return caller
	}
	return ""
}
