// Package blocklist implements the TTL'd set of banned client identities.
// Each blocked identity is a single KV key with an expiry, so the membership
// test on the hot path is one round-trip and entries vanish on their own.
package blocklist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

const keyPrefix = "blocked:"

// blockWriteRetries is the local retry budget for block writes before the
// failure is logged as fatal for that event.
const blockWriteRetries = 3

// Store is the blocklist over the shared KV store. Reads fail open: when the
// store is unreachable the request is allowed and a warning is logged.
type Store struct {
	client kv.Client
	m      *metrics.Metrics
}

// New creates a blocklist store over the given KV client.
func New(client kv.Client, m *metrics.Metrics) *Store {
	return &Store{client: client, m: m}
}

// IsBlocked reports whether id is currently banned. Store failure is treated
// as fail-open: the error is logged and (false, err) is returned so callers
// can proceed while still observing degradation.
func (s *Store) IsBlocked(ctx context.Context, id string) (bool, error) {
	blocked, err := s.client.Exists(ctx, keyPrefix+id)
	if err != nil {
		slog.Warn("blocklist check failed, failing open", "id", id, "error", err)
		s.m.BlocklistOps.WithLabelValues("check", "error").Inc()
		return false, err
	}
	if blocked {
		s.m.BlocklistOps.WithLabelValues("check", "hit").Inc()
	} else {
		s.m.BlocklistOps.WithLabelValues("check", "miss").Inc()
	}
	return blocked, nil
}

// Block bans id for ttl. Idempotent: re-blocking refreshes the TTL without
// duplicating entries. Writes are retried locally; if every attempt fails
// the error is returned and logged as fatal for this event.
func (s *Store) Block(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("blocklist: ttl must be positive, got %s", ttl)
	}

	var lastErr error
	for attempt := 1; attempt <= blockWriteRetries; attempt++ {
		lastErr = s.client.Set(ctx, keyPrefix+id, []byte("1"), ttl)
		if lastErr == nil {
			s.m.BlocklistOps.WithLabelValues("block", "ok").Inc()
			slog.Info("client blocked", "id", id, "ttl", ttl)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}

	s.m.BlocklistOps.WithLabelValues("block", "error").Inc()
	slog.Error("blocklist write failed after retries", "id", id, "error", lastErr)
	return fmt.Errorf("blocklist: block %s: %w", id, lastErr)
}

// Unblock removes id from the blocklist. Absent keys are not an error.
func (s *Store) Unblock(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id); err != nil {
		s.m.BlocklistOps.WithLabelValues("unblock", "error").Inc()
		return fmt.Errorf("blocklist: unblock %s: %w", id, err)
	}
	s.m.BlocklistOps.WithLabelValues("unblock", "ok").Inc()
	return nil
}

// RemainingTTL returns how long id stays blocked. Negative when not blocked.
func (s *Store) RemainingTTL(ctx context.Context, id string) (time.Duration, error) {
	return s.client.TTL(ctx, keyPrefix+id)
}

// Ping is the health probe used by the /health dependency map.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Exists(ctx, keyPrefix+"__health__")
	return err
}
