// Package escalation implements the scoring pipeline that promotes a
// suspicious request into a scored event and, on threshold crossing, into a
// blocking action.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/classifier"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/model"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/reputation"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/window"
)

// Frequency bonus tiers. A client past the higher tier gets only the higher
// bonus, not both.
const (
	freqBonusLow      = 0.10
	freqBonusHigh     = 0.20
	freqThresholdLow  = 30
	freqThresholdHigh = 100
	priorTarpitBonus  = 0.05
	perEventDeadline  = 30 * time.Second
)

// Engine runs the scoring pipeline. Stage failures degrade the score rather
// than failing the event; every degradation is logged and metered.
type Engine struct {
	frequency  *window.FrequencyTracker
	heuristic  *classifier.Heuristic
	adapter    model.Adapter
	reputation *reputation.Client
	visits     kv.Client // tarpit visit flags, read-only here

	fingerprints kv.Client // optional, set via WithFingerprintStore
	breakers     *circuitbreaker.DefenseBreakers

	client    *httpclient.Client
	actionURL string

	threshold    float64
	modelTimeout time.Duration
	metrics      *metrics.Metrics
}

// New wires the engine.
func New(freq *window.FrequencyTracker, h *classifier.Heuristic, adapter model.Adapter,
	rep *reputation.Client, visits kv.Client, client *httpclient.Client,
	actionURL string, threshold float64, modelTimeout time.Duration,
	m *metrics.Metrics) *Engine {
	return &Engine{
		frequency:    freq,
		heuristic:    h,
		adapter:      adapter,
		reputation:   rep,
		visits:       visits,
		client:       client,
		actionURL:    actionURL,
		threshold:    threshold,
		modelTimeout: modelTimeout,
		metrics:      m,
	}
}

// WithFingerprintStore lets the engine note captured browser fingerprints in
// its reports. Informational only: the presence of a fingerprint never moves
// the score.
func (e *Engine) WithFingerprintStore(client kv.Client) *Engine {
	e.fingerprints = client
	return e
}

// WithBreakers routes the model, reputation, and action-webhook stages
// through the pipeline's circuit breakers, so a dependency that keeps
// failing is skipped instead of paying its timeout on every event.
func (e *Engine) WithBreakers(b *circuitbreaker.DefenseBreakers) *Engine {
	e.breakers = b
	return e
}

// Result is the outcome of processing one event.
type Result struct {
	Report      core.ScoreReport
	ActionTaken bool
}

// Process scores the metadata and, when the combined score reaches the
// threshold, submits an ActionEvent. Errors never propagate to the caller;
// the worst case is a heuristic-only score.
func (e *Engine) Process(ctx context.Context, md core.RequestMetadata) Result {
	ctx, cancel := context.WithTimeout(ctx, perEventDeadline)
	defer cancel()

	report := e.score(ctx, md)
	e.metrics.CombinedScore.Observe(report.CombinedScore)

	if report.CombinedScore < e.threshold {
		e.metrics.EscalationEvents.WithLabelValues("below_threshold").Inc()
		slog.Info("escalation below threshold",
			"client", md.ClientIdentity, "score", report.CombinedScore)
		return Result{Report: report}
	}

	report.Reasons = append(report.Reasons,
		fmt.Sprintf("combined_score %.3f >= threshold %.3f", report.CombinedScore, e.threshold))

	event := core.ActionEvent{
		EventType: core.EventMaliciousActivity,
		Reason:    "combined score crossed escalation threshold",
		Timestamp: time.Now().UTC(),
		Metadata:  md,
		Score:     report,
	}

	if err := e.submit(ctx, event); err != nil {
		e.metrics.EscalationEvents.WithLabelValues("error").Inc()
		e.metrics.StageFailures.WithLabelValues("submit").Inc()
		slog.Error("action event submission failed",
			"client", md.ClientIdentity, "error", err)
		return Result{Report: report}
	}

	e.metrics.EscalationEvents.WithLabelValues("emitted").Inc()
	slog.Info("action event emitted",
		"client", md.ClientIdentity, "score", report.CombinedScore, "reasons", report.Reasons)
	return Result{Report: report, ActionTaken: true}
}

// score runs the stages in order: frequency, heuristic, model, reputation,
// combine. Each stage's failure is contained to that stage.
func (e *Engine) score(ctx context.Context, md core.RequestMetadata) core.ScoreReport {
	heuristic, reasons := e.heuristic.Score(md)

	// Frequency stage. A degraded KV store skips the bonus but not the event.
	freq, err := e.frequency.Increment(ctx, md.ClientIdentity)
	if err != nil {
		e.metrics.StageFailures.WithLabelValues("frequency").Inc()
		slog.Warn("frequency stage unavailable",
			"client", md.ClientIdentity, "error", err)
		reasons = append(reasons, "frequency_unavailable")
	} else {
		switch {
		case freq > freqThresholdHigh:
			heuristic += freqBonusHigh
			reasons = append(reasons, fmt.Sprintf("high_frequency:%d", freq))
		case freq > freqThresholdLow:
			heuristic += freqBonusLow
			reasons = append(reasons, fmt.Sprintf("elevated_frequency:%d", freq))
		}
	}

	if e.previouslyTarpitted(ctx, md.ClientIdentity) {
		heuristic += priorTarpitBonus
		reasons = append(reasons, "prior_tarpit_visit")
	}
	if e.fingerprintCaptured(ctx, md.ClientIdentity) {
		reasons = append(reasons, "fingerprint_captured")
	}
	if heuristic > 1.0 {
		heuristic = 1.0
	}

	// Model stage. Timeout or failure omits the score rather than zeroing it.
	var modelScore *float64
	modelCtx, cancel := context.WithTimeout(ctx, e.modelTimeout)
	score, present, err := e.classifyModel(modelCtx, md)
	cancel()
	if err != nil {
		e.metrics.StageFailures.WithLabelValues("model").Inc()
		slog.Warn("model stage failed, omitting model score",
			"client", md.ClientIdentity, "error", err)
	} else if present {
		modelScore = &score
		reasons = append(reasons, fmt.Sprintf("model_score:%.3f", score))
	}

	// Reputation stage.
	var repBonus float64
	if e.reputation.Enabled() {
		repBonus, err = e.lookupReputation(ctx, md.ClientIdentity)
		if err != nil {
			e.metrics.StageFailures.WithLabelValues("reputation").Inc()
			slog.Warn("reputation stage failed",
				"client", md.ClientIdentity, "error", err)
			repBonus = 0
		} else if repBonus > 0 {
			reasons = append(reasons, "malicious_reputation")
		}
	}

	var combined float64
	if modelScore != nil {
		combined = 0.5*heuristic + 0.5**modelScore + repBonus
	} else {
		combined = heuristic + repBonus
	}
	if combined > 1.0 {
		combined = 1.0
	}

	return core.ScoreReport{
		HeuristicScore:  heuristic,
		ModelScore:      modelScore,
		ReputationBonus: repBonus,
		CombinedScore:   combined,
		Reasons:         reasons,
	}
}

func (e *Engine) previouslyTarpitted(ctx context.Context, id string) bool {
	if e.visits == nil {
		return false
	}
	ok, err := e.visits.Exists(ctx, "visited:"+id)
	if err != nil {
		return false
	}
	return ok
}

// classifyModel invokes the adapter, through the model breaker when one is
// wired. An open breaker surfaces as an error and degrades the event to a
// heuristic-only score, same as any other model failure.
func (e *Engine) classifyModel(ctx context.Context, md core.RequestMetadata) (float64, bool, error) {
	if e.breakers == nil {
		return e.adapter.Classify(ctx, md)
	}

	type modelResult struct {
		score   float64
		present bool
	}
	res, err := circuitbreaker.ExecuteWithFallback(e.breakers.Model,
		func() (modelResult, error) {
			s, p, err := e.adapter.Classify(ctx, md)
			return modelResult{score: s, present: p}, err
		},
		func(err error) (modelResult, error) {
			return modelResult{}, err
		})
	return res.score, res.present, err
}

func (e *Engine) lookupReputation(ctx context.Context, id string) (float64, error) {
	if e.breakers == nil {
		return e.reputation.Bonus(ctx, id)
	}
	v, err := e.breakers.Reputation.ExecuteContext(ctx,
		func(ctx context.Context) (interface{}, error) {
			return e.reputation.Bonus(ctx, id)
		})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (e *Engine) fingerprintCaptured(ctx context.Context, id string) bool {
	if e.fingerprints == nil {
		return false
	}
	ok, err := e.fingerprints.Exists(ctx, "fp:"+id)
	if err != nil {
		return false
	}
	return ok
}

func (e *Engine) submit(ctx context.Context, event core.ActionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("escalation: marshal event: %w", err)
	}

	post := func() error {
		resp, err := e.client.PostJSON(ctx, e.actionURL, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
			return fmt.Errorf("escalation: action service returned %d", resp.StatusCode)
		}
		return nil
	}

	if e.breakers == nil {
		return post()
	}
	_, err = e.breakers.Webhook.Execute(func() (interface{}, error) {
		return nil, post()
	})
	return err
}
