package robots

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Refresher owns the live RuleSet and republishes it from the filesystem
// artifact on a cadence. Refreshes build the new ruleset fully, then publish
// it with a pointer swap; readers never see a half-built ruleset.
type Refresher struct {
	path     string
	interval time.Duration
	current  atomic.Pointer[RuleSet]
}

// NewRefresher loads the initial ruleset from path. A missing or unreadable
// file yields an empty ruleset (nothing disallowed) rather than an error:
// the defense must not fail closed on a missing robots artifact.
func NewRefresher(path string, interval time.Duration) *Refresher {
	r := &Refresher{path: path, interval: interval}
	r.reload()
	return r
}

// Current returns the active snapshot. Callers hold it for the duration of
// one request; it is never mutated after publication.
func (r *Refresher) Current() *RuleSet {
	return r.current.Load()
}

// Run refreshes on the configured cadence until ctx is cancelled. Intended
// to run as a background goroutine from main.
func (r *Refresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reload()
		}
	}
}

func (r *Refresher) reload() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if prev := r.current.Load(); prev != nil {
			slog.Warn("robots refresh failed, keeping previous ruleset",
				"path", r.path, "error", err)
			return
		}
		slog.Warn("robots artifact unavailable, starting with empty ruleset",
			"path", r.path, "error", err)
		r.current.Store(Parse(""))
		return
	}

	rs := Parse(string(data))
	r.current.Store(rs)
	slog.Info("robots ruleset published", "path", r.path, "rules", len(rs.Rules()))
}
