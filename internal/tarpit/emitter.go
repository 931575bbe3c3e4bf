package tarpit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

// Emitter forwards tarpit hits to the escalation engine without ever
// blocking the request path. Submissions go through a bounded channel; when
// the channel is full the event is dropped and counted.
type Emitter struct {
	queue   chan core.RequestMetadata
	client  *httpclient.Client
	url     string
	metrics *metrics.Metrics
}

// NewEmitter builds an emitter posting to the escalation webhook URL.
func NewEmitter(client *httpclient.Client, url string, queueSize int, m *metrics.Metrics) *Emitter {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Emitter{
		queue:   make(chan core.RequestMetadata, queueSize),
		client:  client,
		url:     url,
		metrics: m,
	}
}

// Emit enqueues a hit for escalation. Never blocks: a full queue drops the
// event and increments the drop counter.
func (e *Emitter) Emit(md core.RequestMetadata) {
	select {
	case e.queue <- md:
	default:
		e.metrics.EscalationDrops.Inc()
		slog.Warn("escalation queue full, event dropped", "client", md.ClientIdentity)
	}
}

// Run drains the queue until ctx is cancelled. Delivery failures are logged
// and dropped; the tarpit never retries beyond the shared client's budget.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case md := <-e.queue:
			e.deliver(ctx, md)
		}
	}
}

func (e *Emitter) deliver(ctx context.Context, md core.RequestMetadata) {
	body, err := json.Marshal(md)
	if err != nil {
		slog.Error("escalation payload marshal failed", "error", err)
		return
	}
	resp, err := e.client.PostJSON(ctx, e.url, body)
	if err != nil {
		slog.Warn("escalation delivery failed", "client", md.ClientIdentity, "error", err)
		return
	}
	resp.Body.Close()
}
