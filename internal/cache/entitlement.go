package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lampstand/entitlements/internal/model"
)

const (
	defaultEntitlementTTL = time.Minute
	// entitlementVersionTTL only has to outlive one read-through.
	entitlementVersionTTL = time.Hour
)

// Both keys of a user share a hash tag so the scripts stay single-slot.
func entitlementKey(userID string) string        { return "entitlement:{" + userID + "}" }
func entitlementVersionKey(userID string) string { return "entitlement:ver:{" + userID + "}" }

// setIfVersionScript writes the record only while the version still matches
// the one the reader saw before it went to the database.
var setIfVersionScript = redis.NewScript(`
	local current = redis.call('GET', KEYS[1]) or '0'
	if current ~= ARGV[1] then
		return 0
	end
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
	return 1
`)

// invalidateScript bumps the version and drops the record in one step.
var invalidateScript = redis.NewScript(`
	redis.call('INCR', KEYS[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	redis.call('DEL', KEYS[2])
	return 1
`)

// GetEntitlement returns a cached record, or nil on a miss.
// A corrupted entry is treated as a miss.
func (c *Cache) GetEntitlement(ctx context.Context, userID string) (*model.Entitlement, error) {
	data, err := c.client.Get(ctx, entitlementKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached entitlement: %w", err)
	}

	var e model.Entitlement
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &e, nil
}

// EntitlementVersion returns the user's invalidation counter. Readers take it
// before loading from the database and hand it back to SetEntitlement.
func (c *Cache) EntitlementVersion(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, entitlementVersionKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get entitlement version: %w", err)
	}
	return v, nil
}

// SetEntitlement caches a record for the configured TTL unless the user was
// invalidated after version was read. It reports whether the write happened.
func (c *Cache) SetEntitlement(ctx context.Context, e *model.Entitlement, version int64) (bool, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal entitlement: %w", err)
	}

	stored, err := setIfVersionScript.Run(ctx, c.client,
		[]string{entitlementVersionKey(e.UserID), entitlementKey(e.UserID)},
		version, data, c.entitlementTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("set cached entitlement: %w", err)
	}
	return stored == 1, nil
}

// DeleteEntitlement drops the cached record after a write and fences off
// reads that started before it.
func (c *Cache) DeleteEntitlement(ctx context.Context, userID string) error {
	return invalidateScript.Run(ctx, c.client,
		[]string{entitlementVersionKey(userID), entitlementKey(userID)},
		entitlementVersionTTL.Milliseconds(),
	).Err()
}
