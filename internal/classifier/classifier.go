// Package classifier implements the edge decision: for every inbound request
// decide whether to proxy it to the real backend, reject it outright, or
// divert it to the tarpit.
package classifier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/blocklist"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/events"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/robots"
)

// Decision is the outcome of classifying one request.
type Decision struct {
	Route   string // core.RouteProxy, core.RouteTarpit, core.RouteBlocked
	Score   float64
	Reasons []string
}

// Classifier runs the edge decision protocol.
type Classifier struct {
	blocklist *blocklist.Store
	robots    *robots.Refresher
	heuristic *Heuristic
	metrics   *metrics.Metrics
	publisher *events.Publisher // optional decision event stream
}

// New wires the classifier to its dependencies.
func New(bl *blocklist.Store, rb *robots.Refresher, h *Heuristic, m *metrics.Metrics) *Classifier {
	return &Classifier{blocklist: bl, robots: rb, heuristic: h, metrics: m}
}

// WithPublisher enables the operational decision event stream.
func (c *Classifier) WithPublisher(p *events.Publisher) *Classifier {
	c.publisher = p
	return c
}

// Decide applies the decision protocol in order: blocklist gate, benign-bot
// branch, heuristic branch. The blocklist gate fails open on store errors so
// a degraded KV store never takes the site down.
func (c *Classifier) Decide(ctx context.Context, md core.RequestMetadata) Decision {
	// Fail-open: a store error yields blocked=false and is logged by the store.
	blocked, _ := c.blocklist.IsBlocked(ctx, md.ClientIdentity)
	if blocked {
		return c.observe(ctx, md, Decision{Route: core.RouteBlocked, Reasons: []string{"blocklisted"}})
	}

	// The decoy namespace belongs to the tarpit. A client here is following
	// generated links; handing those paths to the backend would both leak the
	// namespace and release the crawler after a single page.
	if inDecoyNamespace(md.Path) {
		return c.observe(ctx, md, Decision{Route: core.RouteTarpit, Reasons: []string{"decoy_namespace"}})
	}

	if c.heuristic.IsBenignBot(md.UserAgent) {
		if c.robots.Current().IsDisallowed(md.Path) {
			return c.observe(ctx, md, Decision{
				Route:   core.RouteTarpit,
				Reasons: []string{"benign_bot_disallowed_path"},
			})
		}
		return c.observe(ctx, md, Decision{Route: core.RouteProxy, Reasons: []string{"benign_bot"}})
	}

	score, reasons := c.heuristic.Score(md)
	c.metrics.HeuristicScore.Observe(score)

	if score >= TarpitThreshold {
		return c.observe(ctx, md, Decision{Route: core.RouteTarpit, Score: score, Reasons: reasons})
	}
	return c.observe(ctx, md, Decision{Route: core.RouteProxy, Score: score, Reasons: reasons})
}

func inDecoyNamespace(path string) bool {
	return path == core.TarpitPathPrefix ||
		strings.HasPrefix(path, core.TarpitPathPrefix+"/")
}

// decisionEvent is the payload of a route_decision operational event.
type decisionEvent struct {
	Client  string   `json:"client"`
	Path    string   `json:"path"`
	Route   string   `json:"route"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

func (c *Classifier) observe(ctx context.Context, md core.RequestMetadata, d Decision) Decision {
	c.metrics.EdgeDecisions.WithLabelValues(d.Route).Inc()
	slog.Info("edge decision",
		"client", md.ClientIdentity,
		"user_agent", md.UserAgent,
		"path", md.Path,
		"route", d.Route,
		"score", d.Score,
		"reasons", d.Reasons)
	if c.publisher != nil {
		c.publisher.Publish(ctx, core.EventRouteDecision, decisionEvent{
			Client:  md.ClientIdentity,
			Path:    md.Path,
			Route:   d.Route,
			Score:   d.Score,
			Reasons: d.Reasons,
		})
	}
	return d
}
