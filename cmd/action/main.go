// The action service is the enforcement tail: it blocklists offenders,
// fans alerts out to the configured sinks, reports to the community
// blocklist, and publishes operational events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/action"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/alerts"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/blocklist"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/config"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/events"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

const (
	alertWorkers   = 2
	alertQueueSize = 1000
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
	client := httpclient.New(m)

	store := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Blocklist)
	defer store.Close()
	bl := blocklist.New(store, m)

	breakers := circuitbreaker.NewDefenseBreakers()
	dispatcher := alerts.NewDispatcher(alerts.SinksFromConfig(cfg, overlay, client),
		alertWorkers, alertQueueSize, m).
		WithBreaker(breakers.Alerts)
	defer dispatcher.Shutdown()

	community := action.NewCommunityReporter(client, cfg.CommunityReportURL,
		cfg.CommunityReportAPIKey, cfg.CommunityReportThreshold).
		WithBreaker(breakers.Community)

	hub := events.NewHub()
	publisher := newPublisher(cfg, store, hub)

	svc := action.New(bl, dispatcher, community, publisher, cfg.BlocklistTTL, m)

	router := mux.NewRouter()
	router.Use(httpx.RequestIDMiddleware, httpx.RecoverMiddleware, httpx.LoggingMiddleware)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", httpx.HealthHandler("action", map[string]httpx.DependencyCheck{
		"blocklist": func(ctx context.Context) error {
			_, err := store.Exists(ctx, "health:probe")
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
	router.HandleFunc("/analyze", svc.AnalyzeHandler).Methods(http.MethodPost)
	router.HandleFunc("/ws/events", events.WSHandler(hub)).Methods(http.MethodGet)

	if err := httpx.ListenAndServe(":"+cfg.ActionPort, router, "action"); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// newPublisher wires the operational event channel when a prefix is
// configured and the store can publish. The in-memory fallback cannot, so
// events then flow only to local websocket subscribers.
func newPublisher(cfg *config.Config, store kv.Client, hub *events.Hub) *events.Publisher {
	if cfg.EventChannelPrefix == "" {
		return events.NewPublisher(nil, "", "action", hub)
	}
	pub, ok := store.(kv.Publisher)
	if !ok {
		slog.Warn("event channel configured but store cannot publish, websocket tail only")
		return events.NewPublisher(nil, "", "action", hub)
	}
	return events.NewPublisher(pub, cfg.EventChannelPrefix, "action", hub)
}
