// The tarpit service wastes scraper resources: deterministic decoy pages
// streamed slowly, a hop ceiling that escalates to a block, and async
// escalation of every hit.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/blocklist"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/config"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/gen"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/markov"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/tarpit"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/window"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	m := metrics.Default()
	corpus := openCorpus(cfg)

	blockStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Blocklist)
	defer blockStore.Close()
	visitStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Tarpit)
	defer visitStore.Close()
	hopStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.HopCounts)
	defer hopStore.Close()

	bl := blocklist.New(blockStore, m)
	hops := window.NewHopCounter(hopStore, cfg.TarpitHopWindow, cfg.TarpitMaxHops)
	generator := gen.New(corpus, cfg.SystemSeed, core.TarpitPathPrefix)

	client := httpclient.New(m)
	emitter := tarpit.NewEmitter(client, cfg.EscalationWebhookURL, cfg.EscalationQueueSize, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go emitter.Run(ctx)

	svc := tarpit.New(tarpit.Options{
		Mode:           cfg.TarpitMode,
		MinDelay:       cfg.TarpitMinDelay,
		MaxDelay:       cfg.TarpitMaxDelay,
		BlockTTL:       cfg.BlocklistTTL,
		LabyrinthDepth: cfg.LabyrinthDepth,
		Fingerprinting: cfg.EnableFingerprinting,
		HopsEnabled:    cfg.HopEnforcementEnabled(),
	}, hops, bl, generator, emitter, visitStore, m)

	if cfg.EnableFingerprinting {
		fpStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Fingerprints)
		defer fpStore.Close()
		svc.WithFingerprintStore(fpStore)
	}

	router := mux.NewRouter()
	router.Use(httpx.RequestIDMiddleware, httpx.RecoverMiddleware, httpx.LoggingMiddleware)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", httpx.HealthHandler("tarpit", map[string]httpx.DependencyCheck{
		"corpus": corpus.Ping,
		"redis": func(ctx context.Context) error {
			_, err := hopStore.Exists(ctx, "health:probe")
			return err
		},
	})).Methods(http.MethodGet)
	router.HandleFunc("/tarpit/fp", svc.FingerprintHandler).Methods(http.MethodPost)
	router.PathPrefix("/").Handler(svc)

	if err := httpx.ListenAndServe(":"+cfg.TarpitPort, router, "tarpit"); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// openCorpus connects to the Markov database, falling back to an empty
// in-memory corpus. The generator then serves its canned paragraphs, so the
// tarpit keeps responding while the database is down.
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
