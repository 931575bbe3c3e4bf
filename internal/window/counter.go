// Package window implements per-identity sliding-window counters over the
// KV store's atomic INCR. The first increment in a window attaches a TTL
// equal to the window length, so windows expire without a sweeper.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
)

// Counter is the common sliding-window counter. FrequencyTracker and
// HopCounter are thin specializations with distinct keyspaces and windows.
type Counter struct {
	client    kv.Client
	keyPrefix string
	window    time.Duration
}

// NewCounter creates a counter with the given key prefix and window length.
func NewCounter(client kv.Client, keyPrefix string, window time.Duration) *Counter {
	return &Counter{client: client, keyPrefix: keyPrefix, window: window}
}

// Increment bumps the counter for id and returns the post-increment count
// within the current window.
func (c *Counter) Increment(ctx context.Context, id string) (int64, error) {
	n, err := c.client.IncrWithTTL(ctx, c.keyPrefix+id, c.window)
	if err != nil {
		return 0, fmt.Errorf("window: increment %s: %w", id, err)
	}
	return n, nil
}

// Count returns the current window's count without incrementing.
func (c *Counter) Count(ctx context.Context, id string) (int64, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+id)
	if err != nil {
		if err == kv.ErrNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("window: count %s: %w", id, err)
	}
	var n int64
	if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
		return 0, fmt.Errorf("window: parse count %s: %w", id, err)
	}
	return n, nil
}

// Ping is the health probe for the counter's keyspace.
func (c *Counter) Ping(ctx context.Context) error {
	_, err := c.client.Exists(ctx, c.keyPrefix+"__health__")
	return err
}

// FrequencyTracker counts requests per client for escalation scoring. No
// enforcement action is attached to this counter.
type FrequencyTracker struct {
	*Counter
}

// NewFrequencyTracker creates the tracker in the "freq:" keyspace.
func NewFrequencyTracker(client kv.Client, windowLen time.Duration) *FrequencyTracker {
	return &FrequencyTracker{NewCounter(client, "freq:", windowLen)}
}

// HopCounter counts tarpit hits per client and enforces a ceiling. A count
// equal to the ceiling is not yet exceeded; only a strict `>` comparison
// triggers the 403 path.
type HopCounter struct {
	*Counter
	maxHops int64
}

// NewHopCounter creates the counter in the "hops:" keyspace.
func NewHopCounter(client kv.Client, windowLen time.Duration, maxHops int) *HopCounter {
	return &HopCounter{
		Counter: NewCounter(client, "hops:", windowLen),
		maxHops: int64(maxHops),
	}
}

// IncrementAndCheck bumps the hop count and reports whether the
// post-increment value exceeds the ceiling.
func (h *HopCounter) IncrementAndCheck(ctx context.Context, id string) (count int64, exceeded bool, err error) {
	n, err := h.Increment(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return n, n > h.maxHops, nil
}

// IsExceeded reports whether id has already gone past the ceiling in the
// current window, without incrementing.
func (h *HopCounter) IsExceeded(ctx context.Context, id string) (bool, error) {
	n, err := h.Count(ctx, id)
	if err != nil {
		return false, err
	}
	return n > h.maxHops, nil
}
