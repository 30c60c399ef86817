// Package cache provides the key-value cache the compiled policy is
// memoized in: a process-local implementation for single-node
// deployments and tests, and a Redis implementation for fleets that
// must share one policy cache.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL key-value store. Get returns found=false for missing
// or expired keys. Callers treat any error as a miss - the policy is
// always rebuildable from the store.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
