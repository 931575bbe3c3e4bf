package alerts

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/config"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

// Dispatcher fans alerts out to sinks asynchronously over a bounded queue
// and a background worker pool. Sink failures are independent: one sink
// failing never stops delivery to the others.
type Dispatcher struct {
	sinks   []Sink
	queue   chan deliveryJob
	metrics *metrics.Metrics
	breaker *circuitbreaker.CircuitBreaker // optional, shared across sinks
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type deliveryJob struct {
	sink  Sink
	alert Alert
}

// NewDispatcher starts the worker pool.
func NewDispatcher(sinks []Sink, workers, queueSize int, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan deliveryJob, queueSize),
		metrics: m,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	return d
}

// WithBreaker routes deliveries through a shared circuit breaker. When every
// receiver is down the workers stop paying delivery timeouts until it
// half-opens.
func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// Dispatch enqueues the event's alert for every sink whose severity gate it
// passes. Never blocks: a full queue drops that sink's delivery.
func (d *Dispatcher) Dispatch(ev core.ActionEvent) {
	alert := FromEvent(ev)
	rank := core.SeverityRank(alert.Severity)

	for _, sink := range d.sinks {
		if rank < core.SeverityRank(sink.MinSeverity()) {
			continue
		}
		select {
		case d.queue <- deliveryJob{sink: sink, alert: alert}:
		default:
			d.metrics.AlertsDispatched.WithLabelValues(sink.Name(), "dropped").Inc()
			slog.Warn("alert queue full, delivery dropped", "sink", sink.Name())
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			if err := d.deliver(ctx, job); err != nil {
				d.metrics.AlertsDispatched.WithLabelValues(job.sink.Name(), "error").Inc()
				slog.Warn("alert delivery failed", "sink", job.sink.Name(), "error", err)
				continue
			}
			d.metrics.AlertsDispatched.WithLabelValues(job.sink.Name(), "ok").Inc()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job deliveryJob) error {
	if d.breaker == nil {
		return job.sink.Deliver(ctx, job.alert)
	}
	_, err := d.breaker.ExecuteContext(ctx,
		func(ctx context.Context) (interface{}, error) {
			return nil, job.sink.Deliver(ctx, job.alert)
		})
	return err
}

// Shutdown stops the workers. Queued deliveries that have not started are
// abandoned.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
}

// SinksFromConfig assembles the sink set from env config plus the YAML
// overlay. Unset URLs simply produce no sink.
func SinksFromConfig(cfg *config.Config, overlay *config.Overlay, client *httpclient.Client) []Sink {
	var sinks []Sink

	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(client, cfg.AlertWebhookURL, cfg.AlertMinSeverity))
	}
	if cfg.AlertChatURL != "" {
		sinks = append(sinks, NewChatSink(client, cfg.AlertChatURL, cfg.AlertMinSeverity))
	}
	if cfg.AlertSMTPHost != "" && cfg.AlertSMTPTo != "" {
		sinks = append(sinks, NewSMTPSink(cfg.AlertSMTPHost, cfg.AlertSMTPPort,
			cfg.AlertSMTPFrom, cfg.AlertSMTPTo, cfg.AlertMinSeverity))
	}

	for _, sc := range overlay.AlertSinks {
		min := sc.MinSeverity
		if min == "" {
			min = cfg.AlertMinSeverity
		}
		switch sc.Kind {
		case "webhook":
			sinks = append(sinks, NewWebhookSink(client, sc.URL, min))
		case "chat":
			sinks = append(sinks, NewChatSink(client, sc.URL, min))
		case "smtp":
			sinks = append(sinks, NewSMTPSink(sc.SMTPHost, sc.SMTPPort, sc.From, sc.To, min))
		default:
			slog.Warn("unknown alert sink kind, skipping", "kind", sc.Kind)
		}
	}
	return sinks
}
