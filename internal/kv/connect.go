package kv

import "log/slog"

// Connect opens the Redis-backed client for one logical database, falling
// back to the process-local in-memory store when Redis is unreachable. The
// fallback keeps a single-node deployment alive but shares no state with
// other services; the warning makes that visible.
func Connect(addr, password string, db int) Client {
	client, err := NewRedisClient(addr, password, db)
	if err != nil {
		slog.Warn("Redis unavailable, using in-memory store (state is process-local)",
			"addr", addr, "db", db, "error", err)
		return NewMemoryClient()
	}
	return client
}
