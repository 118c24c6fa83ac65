package cache

import (
	"context"
	"time"
)

// Layer is a key/value store for encoded snapshots (quotes, sessions).
// Values are opaque bytes; callers own the encoding.
type Layer interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A zero ttl means the layer default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the layer in logs and metrics (e.g. "L1-memory", "L2-redis").
	Name() string

	// Close releases any resources held by the layer.
	Close() error
}
