// Package tarpit serves the decoy endpoint: hop enforcement, deterministic
// slow-streamed content, and fire-and-forget escalation of every hit.
package tarpit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/blocklist"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/classifier"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/gen"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/window"
)

const (
	// ModeClassic streams Markov paragraphs with sibling links.
	ModeClassic = "classic"
	// ModeLabyrinth serves forward-only maze pages with a depth cap.
	ModeLabyrinth = "labyrinth"

	streamChunkSize = 256

	// visitFlagTTL marks a client as previously tarpitted; the escalation
	// engine reads this flag for its repeat-offender bonus.
	visitFlagTTL = 24 * time.Hour
)

// Options are the knobs the service needs from configuration.
type Options struct {
	Mode           string
	MinDelay       time.Duration
	MaxDelay       time.Duration
	BlockTTL       time.Duration
	LabyrinthDepth int
	Fingerprinting bool
	HopsEnabled    bool
}

// EscalationSink receives tarpit hits for asynchronous scoring. The
// standalone service uses the webhook Emitter; the all-in-one binary feeds
// the escalation worker pool directly.
type EscalationSink interface {
	Emit(md core.RequestMetadata)
}

// Service handles the tarpit route.
type Service struct {
	opts      Options
	hops      *window.HopCounter
	blocklist *blocklist.Store
	generator *gen.Generator
	emitter   EscalationSink
	visits    kv.Client
	metrics   *metrics.Metrics

	fingerprints kv.Client // set via WithFingerprintStore when enabled
}

// New wires the tarpit service. hops may be nil only when opts.HopsEnabled
// is false.
func New(opts Options, hops *window.HopCounter, bl *blocklist.Store, g *gen.Generator,
	em EscalationSink, visits kv.Client, m *metrics.Metrics) *Service {
	return &Service{
		opts:      opts,
		hops:      hops,
		blocklist: bl,
		generator: g,
		emitter:   em,
		visits:    visits,
		metrics:   m,
	}
}

// ServeHTTP implements the tarpit response path: hop enforcement, async
// escalation emit, deterministic generation, slow streaming.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	md := core.MetadataFromRequest(r, classifier.ClientIdentity(r))
	s.metrics.TarpitHits.Inc()

	if s.opts.HopsEnabled {
		count, exceeded, err := s.hops.IncrementAndCheck(ctx, md.ClientIdentity)
		if err != nil {
			slog.Warn("hop counter unavailable, serving without enforcement",
				"client", md.ClientIdentity, "error", err)
		} else if exceeded {
			s.rejectAtCeiling(w, r, md, count)
			return
		}
	}

	// Fire-and-forget: the response proceeds while escalation happens on the
	// worker pool.
	s.emitter.Emit(md)
	s.markVisited(ctx, md.ClientIdentity)

	page := s.buildPage(ctx, md.Path)
	body := gen.RenderHTML(page, s.opts.Fingerprinting)

	s.stream(w, r, md.Path, body)
}

func (s *Service) rejectAtCeiling(w http.ResponseWriter, r *http.Request, md core.RequestMetadata, count int64) {
	s.metrics.HopRejections.Inc()
	if err := s.blocklist.Block(r.Context(), md.ClientIdentity, s.opts.BlockTTL); err != nil {
		slog.Error("blocklisting at hop ceiling failed", "client", md.ClientIdentity, "error", err)
	}
	slog.Info("hop ceiling exceeded", "client", md.ClientIdentity, "hops", count)
	httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeUnauthorized, "access denied")
}

func (s *Service) markVisited(ctx context.Context, id string) {
	if err := s.visits.Set(ctx, "visited:"+id, []byte("1"), visitFlagTTL); err != nil {
		slog.Warn("visit flag write failed", "client", id, "error", err)
	}
}

func (s *Service) buildPage(ctx context.Context, path string) gen.Page {
	if s.opts.Mode == ModeLabyrinth {
		return s.generator.LabyrinthPage(ctx, path, s.opts.LabyrinthDepth)
	}
	return s.generator.Page(ctx, path)
}

// stream writes the body in chunks, sleeping between chunks with delays
// drawn from the path-seeded RNG. Each chunk is flushed so the client sees
// progress; client disconnect cancels the remaining chunks.
func (s *Service) stream(w http.ResponseWriter, r *http.Request, path string, body []byte) {
	s.metrics.TarpitActive.Inc()
	defer s.metrics.TarpitActive.Dec()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	rng := s.generator.Rand(path + "#delays")
	delaySpread := s.opts.MaxDelay - s.opts.MinDelay

	for off := 0; off < len(body); off += streamChunkSize {
		end := off + streamChunkSize
		if end > len(body) {
			end = len(body)
		}
		n, err := w.Write(body[off:end])
		if err != nil {
			return
		}
		s.metrics.TarpitBytes.Add(float64(n))
		if flusher != nil {
			flusher.Flush()
		}
		if end == len(body) {
			break
		}

		delay := s.opts.MinDelay
		if delaySpread > 0 {
			delay += time.Duration(rng.Int63n(int64(delaySpread)))
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
	}
}
