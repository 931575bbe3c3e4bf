// Package alerts fans ActionEvents out to the configured notification sinks.
// Sinks are polymorphic behind one contract; the dispatcher owns the queue,
// the workers, and the per-sink severity gates.
package alerts

import (
	"context"
	"fmt"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
)

// Alert is the rendered notification handed to sinks.
type Alert struct {
	Severity string           `json:"severity"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	Event    core.ActionEvent `json:"event"`
}

// Sink delivers one alert. Each variant owns its transport and its
// serialization.
type Sink interface {
	Deliver(ctx context.Context, a Alert) error
	Name() string
	MinSeverity() string
}

// FromEvent renders the standard alert for an action event.
func FromEvent(ev core.ActionEvent) Alert {
	return Alert{
		Severity: core.EventSeverity(ev),
		Title:    fmt.Sprintf("Scraper blocked: %s", ev.Metadata.ClientIdentity),
		Message: fmt.Sprintf("%s from %s (UA %q, path %s), combined score %.3f",
			ev.EventType, ev.Metadata.ClientIdentity, ev.Metadata.UserAgent,
			ev.Metadata.Path, ev.Score.CombinedScore),
		Event: ev,
	}
}
