package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the arena uses: reservations, locks and read-through caching.
type Cache interface {
	BasicOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" with a nil error when key is missing.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	// Returns true if the key was set, false if it already existed.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock acquires key for ttl. It does not block.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Unlock(ctx context.Context, key string) error
}
