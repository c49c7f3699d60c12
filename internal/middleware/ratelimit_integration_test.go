//go:build integration

package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lampstand/entitlements/internal/cache"
	"github.com/lampstand/entitlements/internal/testutil"
)

// TestUserRateLimitConcurrency verifies the token bucket under concurrent load.
func TestUserRateLimitConcurrency(t *testing.T) {
	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := cache.New(ctx, redisURL, time.Minute)
	if err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}
	defer c.Close()

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	const (
		rpm   = 10
		burst = 5
	)
	var allowed, rejected int64

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				result, err := c.CheckUserRateLimit(ctx, "concurrent-user", rpm, burst)
				if err != nil {
					t.Errorf("CheckUserRateLimit error: %v", err)
					return
				}
				if result.Allowed {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&rejected, 1)
				}
			}
		}()
	}
	wg.Wait()

	if allowed > burst+1 {
		t.Errorf("allowed %d requests, want at most %d", allowed, burst+1)
	}
	if allowed+rejected != 60 {
		t.Errorf("total = %d, want 60", allowed+rejected)
	}
}
