// Package kv defines the minimal key-value surface the defense components
// need from the shared store. Components depend on this interface, not on a
// concrete driver. Mains construct the go-redis adapter (or the in-memory
// fallback) and inject it.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist. Callers that
// treat absence as a normal state (blocklist lookups, visit flags) match on
// this instead of inspecting driver errors.
var ErrNotFound = errors.New("kv: key not found")

// Client is the write-shared surface over the KV store. All mutations map to
// the store's atomic primitives; sliding-window semantics are built on
// IncrWithTTL, which attaches the TTL only on the first increment of a key.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// Exists is a single-roundtrip membership test.
	Exists(ctx context.Context, key string) (bool, error)

	// IncrWithTTL atomically increments key and returns the new value. When
	// the post-increment value is 1 (first hit in a window), the TTL is
	// attached so the window expires on its own.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of key, or a negative duration when
	// the key is absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	Close() error
}

// Publisher is the optional pub/sub surface for the operational event
// channel. Kept separate from Client because most components never publish.
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}
