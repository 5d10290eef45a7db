// Package cache defines the byte-valued key-value cache behind webhook
// delivery dedupe and the Idempotency-Key middleware.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a per-entry TTL. Implementations may evict
// early; callers treat a miss as "never seen".
type Cache interface {
	// Get reports whether key is present and returns its value.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
