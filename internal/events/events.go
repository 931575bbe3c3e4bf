// Package events carries the operational event stream: every blocking
// decision and escalation is published for dashboards and for the live
// websocket tail. The stream is observability, not a contract: losing an
// event never affects enforcement.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
)

// Event is the envelope published to the channel and streamed to tails.
type Event struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Source string          `json:"source"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data"`
}

// Publisher fans operational events to the Redis channel and the in-process
// hub. Either target may be absent.
type Publisher struct {
	pub    kv.Publisher // nil when no channel prefix is configured
	prefix string
	source string
	hub    *Hub
}

// NewPublisher builds a publisher. pub may be nil (hub-only), hub may be nil
// (channel-only).
func NewPublisher(pub kv.Publisher, prefix, source string, hub *Hub) *Publisher {
	return &Publisher{pub: pub, prefix: prefix, source: source, hub: hub}
}

// Publish emits one event. Failures are logged and swallowed: the stream is
// best-effort by design.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("event payload marshal failed", "type", eventType, "error", err)
		return
	}
	ev := Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		Source: p.source,
		Time:   time.Now().UTC(),
		Data:   data,
	}

	if p.hub != nil {
		p.hub.Broadcast(ev)
	}
	if p.pub != nil && p.prefix != "" {
		msg, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("event envelope marshal failed", "type", eventType, "error", err)
			return
		}
		if err := p.pub.Publish(ctx, p.prefix+"."+eventType, msg); err != nil {
			slog.Warn("event publish failed", "type", eventType, "error", err)
		}
	}
}

// PublishActionEvent publishes the standard envelope for a pipeline action.
func (p *Publisher) PublishActionEvent(ctx context.Context, ev core.ActionEvent) {
	p.Publish(ctx, ev.EventType, ev)
}
