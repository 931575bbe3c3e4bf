// Package action is the last stage of the pipeline: it receives confirmed
// malicious events, mutates the blocklist, fans out alerts, and optionally
// reports the offender to a community blocklist.
package action

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/alerts"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/blocklist"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/events"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

// Service processes ActionEvents. The three sub-actions (block, alert,
// report) are independent: each failure is logged and metered on its own and
// never aborts the others.
type Service struct {
	blocklist *blocklist.Store
	alerts    *alerts.Dispatcher
	community *CommunityReporter
	publisher *events.Publisher // nil when operational events are disabled
	blockTTL  time.Duration
	metrics   *metrics.Metrics
}

// New wires the action service.
func New(bl *blocklist.Store, al *alerts.Dispatcher, cr *CommunityReporter,
	pub *events.Publisher, blockTTL time.Duration, m *metrics.Metrics) *Service {
	return &Service{
		blocklist: bl,
		alerts:    al,
		community: cr,
		publisher: pub,
		blockTTL:  blockTTL,
		metrics:   m,
	}
}

// HandleEvent runs the three sub-actions for one event.
func (s *Service) HandleEvent(ctx context.Context, ev core.ActionEvent) {
	id := ev.Metadata.ClientIdentity

	if err := s.blocklist.Block(ctx, id, s.blockTTL); err != nil {
		s.metrics.ActionEvents.WithLabelValues("block_failed").Inc()
		slog.Error("block action failed", "client", id, "error", err)
	} else {
		s.metrics.ActionEvents.WithLabelValues("blocked").Inc()
	}

	s.alerts.Dispatch(ev)

	if s.community.ShouldReport(ev) {
		if err := s.community.Report(ctx, ev); err != nil {
			slog.Warn("community report failed", "client", id, "error", err)
		} else {
			slog.Info("community report submitted", "client", id)
		}
	}

	if s.publisher != nil {
		s.publisher.PublishActionEvent(ctx, ev)
	}
}

// AnalyzeHandler is the webhook entry: accepts an ActionEvent and replies
// 202 once the event is processed. 422 on malformed bodies.
func (s *Service) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var ev core.ActionEvent
	if !httpx.DecodeJSON(w, r, &ev) {
		return
	}
	if ev.Metadata.ClientIdentity == "" {
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, httpx.CodeInvalidRequest,
			"details.client_identity is required")
		return
	}

	s.HandleEvent(r.Context(), ev)
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
