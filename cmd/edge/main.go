// The edge service classifies every inbound request and routes it: real
// backend, tarpit, or outright rejection for blocklisted clients.
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
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/classifier"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/config"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/events"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/robots"
)

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
	store := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Blocklist)
	defer store.Close()
	bl := blocklist.New(store, m)

	rb := robots.NewRefresher(cfg.RobotsFilePath, cfg.RobotsRefreshInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rb.Run(ctx)

	matcher := classifier.NewAgentMatcher(overlay.UserAgents.Benign, overlay.UserAgents.Hostile)
	heuristic := classifier.NewHeuristic(matcher)
	cls := classifier.New(bl, rb, heuristic, m)

	if cfg.EventChannelPrefix != "" {
		if pub, ok := store.(kv.Publisher); ok {
			cls.WithPublisher(events.NewPublisher(pub, cfg.EventChannelPrefix, "edge", nil))
		} else {
			slog.Warn("event channel configured but store cannot publish, skipping decision events")
		}
	}

	edge, err := classifier.NewEdgeHandler(cls, rb, cfg.BackendURL, cfg.TarpitURL)
	if err != nil {
		slog.Error("invalid routing targets", "error", err)
		os.Exit(1)
	}

	router := mux.NewRouter()
	router.Use(httpx.RequestIDMiddleware, httpx.RecoverMiddleware, httpx.LoggingMiddleware)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", httpx.HealthHandler("edge", map[string]httpx.DependencyCheck{
		"blocklist": func(ctx context.Context) error {
			_, err := store.Exists(ctx, "health:probe")
			return err
		},
	})).Methods(http.MethodGet)
	router.HandleFunc("/robots.txt", edge.RobotsHandler).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(edge)

	if err := httpx.ListenAndServe(":"+cfg.EdgePort, router, "edge"); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
