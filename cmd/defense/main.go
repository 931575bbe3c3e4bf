// The defense binary runs the whole pipeline in one process: edge
// classification, the tarpit, the escalation engine, and the action tail.
// Single-node deployments run this instead of the four separate services.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/action"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/alerts"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/blocklist"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/classifier"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/config"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/escalation"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/events"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/gen"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/markov"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/model"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/reputation"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/robots"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/tarpit"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/window"
)

const (
	alertWorkers   = 2
	alertQueueSize = 1000
)

// poolSink feeds tarpit hits straight into the in-process escalation pool,
// skipping the webhook hop the standalone services need.
type poolSink struct {
	pool *escalation.Pool
}

func (s poolSink) Emit(md core.RequestMetadata) {
	s.pool.Submit(md)
}

// edge routes requests using the in-process tarpit instead of a reverse
// proxy to a separate service.
type edge struct {
	classifier *classifier.Classifier
	tarpit     *tarpit.Service
	backend    *httputil.ReverseProxy
}

func (e *edge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	md := core.MetadataFromRequest(r, classifier.ClientIdentity(r))
	decision := e.classifier.Decide(r.Context(), md)

	switch decision.Route {
	case core.RouteBlocked:
		httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeUnauthorized, "access denied")
	case core.RouteTarpit:
		e.tarpit.ServeHTTP(w, r)
	default:
		e.backend.ServeHTTP(w, r)
	}
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	overlay, err := config.LoadOverlay(cfg.OverlayPath)
	if err != nil {
		slog.Error("overlay load failed", "path", cfg.OverlayPath, "error", err)
		os.Exit(1)
	}

	m := metrics.Default()
	client := httpclient.New(m)

	blockStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Blocklist)
	defer blockStore.Close()
	visitStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Tarpit)
	defer visitStore.Close()
	freqStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Frequency)
	defer freqStore.Close()
	hopStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.HopCounts)
	defer hopStore.Close()

	bl := blocklist.New(blockStore, m)

	rb := robots.NewRefresher(cfg.RobotsFilePath, cfg.RobotsRefreshInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rb.Run(ctx)

	matcher := classifier.NewAgentMatcher(overlay.UserAgents.Benign, overlay.UserAgents.Hostile)
	heuristic := classifier.NewHeuristic(matcher)
	cls := classifier.New(bl, rb, heuristic, m)

	corpus := openCorpus(cfg)
	generator := gen.New(corpus, cfg.SystemSeed, core.TarpitPathPrefix)

	// Action tail. One breaker set covers the whole in-process pipeline.
	breakers := circuitbreaker.NewDefenseBreakers()
	dispatcher := alerts.NewDispatcher(alerts.SinksFromConfig(cfg, overlay, client),
		alertWorkers, alertQueueSize, m).
		WithBreaker(breakers.Alerts)
	defer dispatcher.Shutdown()
	community := action.NewCommunityReporter(client, cfg.CommunityReportURL,
		cfg.CommunityReportAPIKey, cfg.CommunityReportThreshold).
		WithBreaker(breakers.Community)
	hub := events.NewHub()
	publisher := newPublisher(cfg, blockStore, hub)
	actionSvc := action.New(bl, dispatcher, community, publisher, cfg.BlocklistTTL, m)
	cls.WithPublisher(publisher)

	// Escalation pipeline. The engine still submits ActionEvents over HTTP so
	// the same code path runs split or all-in-one; the webhook URL points at
	// this process.
	adapter := model.New(model.Options{
		URI:         cfg.ModelURI,
		APIKey:      cfg.ModelAPIKey,
		Timeout:     cfg.ModelTimeout,
		InitRetries: cfg.ModelInitRetries,
		InitDelay:   cfg.ModelInitDelay,
	}, client)
	repURL := ""
	if cfg.EnableIPReputation {
		repURL = cfg.IPReputationURL
	}
	rep := reputation.New(client, repURL, cfg.IPReputationAPIKey,
		cfg.IPReputationMinSeverity, cfg.IPReputationBonus)
	freq := window.NewFrequencyTracker(freqStore, cfg.FrequencyWindow)
	engine := escalation.New(freq, heuristic, adapter, rep, visitStore, client,
		"http://localhost:"+cfg.EdgePort+"/analyze", cfg.EscalationThreshold,
		cfg.ModelTimeout, m).
		WithBreakers(breakers)

	pool := escalation.NewPool(engine, cfg.EscalationWorkers, cfg.EscalationQueueSize, m)
	go pool.Run(ctx)

	// Tarpit, fed straight into the pool.
	hops := window.NewHopCounter(hopStore, cfg.TarpitHopWindow, cfg.TarpitMaxHops)
	tarpitSvc := tarpit.New(tarpit.Options{
		Mode:           cfg.TarpitMode,
		MinDelay:       cfg.TarpitMinDelay,
		MaxDelay:       cfg.TarpitMaxDelay,
		BlockTTL:       cfg.BlocklistTTL,
		LabyrinthDepth: cfg.LabyrinthDepth,
		Fingerprinting: cfg.EnableFingerprinting,
		HopsEnabled:    cfg.HopEnforcementEnabled(),
	}, hops, bl, generator, poolSink{pool}, visitStore, m)
	if cfg.EnableFingerprinting {
		fpStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Fingerprints)
		defer fpStore.Close()
		tarpitSvc.WithFingerprintStore(fpStore)
		engine.WithFingerprintStore(fpStore)
	}

	backendURL, err := url.Parse(cfg.BackendURL)
	if err != nil {
		slog.Error("invalid REAL_BACKEND_URL", "error", err)
		os.Exit(1)
	}

	router := mux.NewRouter()
	router.Use(httpx.RequestIDMiddleware, httpx.RecoverMiddleware, httpx.LoggingMiddleware)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", httpx.HealthHandler("defense", map[string]httpx.DependencyCheck{
		"corpus": corpus.Ping,
		"redis": func(ctx context.Context) error {
			_, err := blockStore.Exists(ctx, "health:probe")
			return err
		},
		"breakers": func(ctx context.Context) error {
			status, states := breakers.HealthStatus()
			if status != "HEALTHY" {
				return fmt.Errorf("circuit breakers degraded: %v", states)
			}
			return nil
		},
	})).Methods(http.MethodGet)
	router.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(rb.Current().Raw()))
	}).Methods(http.MethodGet)
	router.HandleFunc("/tarpit/fp", tarpitSvc.FingerprintHandler).Methods(http.MethodPost)
	router.HandleFunc("/escalate", engine.Handler).Methods(http.MethodPost)
	router.HandleFunc("/analyze", actionSvc.AnalyzeHandler).Methods(http.MethodPost)
	router.HandleFunc("/ws/events", events.WSHandler(hub)).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(&edge{
		classifier: cls,
		tarpit:     tarpitSvc,
		backend:    httputil.NewSingleHostReverseProxy(backendURL),
	})

	if err := httpx.ListenAndServe(":"+cfg.EdgePort, router, "defense"); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func openCorpus(cfg *config.Config) markov.Corpus {
	if cfg.MarkovDatabaseURL == "" {
		slog.Warn("MARKOV_DATABASE_URL unset, serving canned decoy content")
		return markov.NewMemoryCorpus()
	}
	corpus, err := markov.OpenPostgres(cfg.MarkovDatabaseURL)
	if err != nil {
		slog.Warn("corpus database unreachable, serving canned decoy content", "error", err)
		return markov.NewMemoryCorpus()
	}
	return corpus
}

func newPublisher(cfg *config.Config, store kv.Client, hub *events.Hub) *events.Publisher {
	if cfg.EventChannelPrefix == "" {
		return events.NewPublisher(nil, "", "defense", hub)
	}
	pub, ok := store.(kv.Publisher)
	if !ok {
		slog.Warn("event channel configured but store cannot publish, websocket tail only")
		return events.NewPublisher(nil, "", "defense", hub)
	}
	return events.NewPublisher(pub, cfg.EventChannelPrefix, "defense", hub)
}
