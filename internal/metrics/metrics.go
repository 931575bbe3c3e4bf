// Package metrics holds the Prometheus instruments for the defense core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the defense pipeline.
type Metrics struct {
	// Edge classification
	EdgeDecisions  *prometheus.CounterVec // route: proxy, tarpit, blocked
	HeuristicScore prometheus.Histogram

	// Blocklist
	BlocklistOps *prometheus.CounterVec // op: check, block, unblock; result: hit, miss, ok, error

	// Tarpit
	TarpitHits      prometheus.Counter
	TarpitActive    prometheus.Gauge
	HopRejections   prometheus.Counter
	TarpitBytes     prometheus.Counter
	EscalationDrops prometheus.Counter // bounded queue full, event dropped

	// Escalation
	EscalationEvents *prometheus.CounterVec // outcome: emitted, below_threshold, error
	CombinedScore    prometheus.Histogram
	StageFailures    *prometheus.CounterVec // stage: frequency, model, reputation, submit

	// Action service
	ActionEvents     *prometheus.CounterVec // result: blocked, block_failed
	AlertsDispatched *prometheus.CounterVec // sink, result

	// Outbound HTTP
	OutboundRetries *prometheus.CounterVec // host
	BreakerState    *prometheus.GaugeVec   // name; 0 closed, 1 open, 2 half-open
}

// New creates and registers all metrics against reg. Pass
// prometheus.DefaultRegisterer in mains; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EdgeDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defense_edge_decisions_total",
				Help: "Edge classifier routing decisions",
			},
			[]string{"route"},
		),
		HeuristicScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "defense_edge_heuristic_score",
				Help:    "Heuristic suspicion score computed at the edge",
				Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),
		BlocklistOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defense_blocklist_ops_total",
				Help: "Blocklist store operations by op and result",
			},
			[]string{"op", "result"},
		),
		TarpitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "defense_tarpit_hits_total",
				Help: "Requests served by the tarpit",
			},
		),
		TarpitActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "defense_tarpit_active_streams",
				Help: "Tarpit responses currently streaming",
			},
		),
		HopRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "defense_tarpit_hop_rejections_total",
				Help: "Tarpit requests rejected at the hop ceiling",
			},
		),
		TarpitBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "defense_tarpit_streamed_bytes_total",
				Help: "Decoy bytes streamed to tarpitted clients",
			},
		),
		EscalationDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "defense_escalation_queue_dropped_total",
				Help: "Escalation events dropped because the queue was full",
			},
		),
		EscalationEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defense_escalation_events_total",
				Help: "Escalation pipeline outcomes",
			},
			[]string{"outcome"},
		),
		CombinedScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "defense_escalation_combined_score",
				Help:    "Combined malice score after all stages",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defense_escalation_stage_failures_total",
				Help: "Escalation stages that degraded or failed",
			},
			[]string{"stage"},
		),
		ActionEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defense_action_events_total",
				Help: "Action service event outcomes",
			},
			[]string{"result"},
		),
		AlertsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defense_alerts_dispatched_total",
				Help: "Alert deliveries by sink and result",
			},
			[]string{"sink", "result"},
		),
		OutboundRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "defense_outbound_retries_total",
				Help: "Outbound HTTP retry attempts by host",
			},
			[]string{"host"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "defense_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"name"},
		),
	}
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns the process-wide Metrics registered against the default
// Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = New(prometheus.DefaultRegisterer)
	})
	return defaultM
}

// NewForTest returns metrics bound to a throwaway registry.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}
