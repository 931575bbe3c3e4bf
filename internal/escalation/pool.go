package escalation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

// Pool feeds a bounded queue of request snapshots to a fixed set of engine
// workers. Submission never blocks: a full queue drops the event and bumps
// the drop counter.
type Pool struct {
	engine  *Engine
	queue   chan core.RequestMetadata
	workers int
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewPool sizes the queue and worker set.
func NewPool(engine *Engine, workers, queueSize int, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	return &Pool{
		engine:  engine,
		queue:   make(chan core.RequestMetadata, queueSize),
		workers: workers,
		metrics: m,
	}
}

// Submit enqueues an event without blocking. Returns false when the queue
// was full and the event was dropped.
func (p *Pool) Submit(md core.RequestMetadata) bool {
	select {
	case p.queue <- md:
		return true
	default:
		p.metrics.EscalationDrops.Inc()
		slog.Warn("escalation pool queue full, event dropped", "client", md.ClientIdentity)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned. Events still queued at cancellation are abandoned; processing
// them would run against a cancelled context anyway.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case md := <-p.queue:
					p.engine.Process(ctx, md)
				}
			}
		}()
	}
	p.wg.Wait()
}
