package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryClient is an in-process Client used when Redis is unreachable at
// startup and in tests. Single-pod semantics only: state is not shared
// across processes, so blocklist convergence is lost; mains log a warning
// when falling back to it.
type MemoryClient struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	counter   int64
	isCounter bool
	expiresAt time.Time // zero means no expiry
}

// NewMemoryClient creates an empty in-memory store.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{entries: make(map[string]memoryEntry)}
}

func (m *MemoryClient) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if e.isCounter {
		return []byte(strconv.FormatInt(e.counter, 10)), nil
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryClient) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryClient) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.get(key)
	return ok, nil
}

func (m *MemoryClient) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		e = memoryEntry{isCounter: true}
		if ttl > 0 {
			e.expiresAt = time.Now().Add(ttl)
		}
	}
	e.counter++
	m.entries[key] = e
	return e.counter, nil
}

func (m *MemoryClient) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return -2 * time.Second, nil // mirror Redis: -2 for missing key
	}
	if e.expiresAt.IsZero() {
		return -1 * time.Second, nil // -1 for no expiry
	}
	return time.Until(e.expiresAt), nil
}

func (m *MemoryClient) Close() error { return nil }

// Publish is a no-op: the in-memory fallback has no cross-process channel.
func (m *MemoryClient) Publish(context.Context, string, []byte) error { return nil }
