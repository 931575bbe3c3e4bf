// The escalation engine turns tarpit hits into scored events and, past the
// threshold, into blocking actions via the action service.
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

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/classifier"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/config"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/escalation"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/model"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/reputation"
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
	overlay, err := config.LoadOverlay(cfg.OverlayPath)
	if err != nil {
		slog.Error("overlay load failed", "path", cfg.OverlayPath, "error", err)
		os.Exit(1)
	}

	m := metrics.Default()
	client := httpclient.New(m)

	freqStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Frequency)
	defer freqStore.Close()
	visitStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Tarpit)
	defer visitStore.Close()

	freq := window.NewFrequencyTracker(freqStore, cfg.FrequencyWindow)
	matcher := classifier.NewAgentMatcher(overlay.UserAgents.Benign, overlay.UserAgents.Hostile)
	heuristic := classifier.NewHeuristic(matcher)

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

	breakers := circuitbreaker.NewDefenseBreakers()
	engine := escalation.New(freq, heuristic, adapter, rep, visitStore, client,
		cfg.ActionWebhookURL, cfg.EscalationThreshold, cfg.ModelTimeout, m).
		WithBreakers(breakers)
	if cfg.EnableFingerprinting {
		fpStore := kv.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB.Fingerprints)
		defer fpStore.Close()
		engine.WithFingerprintStore(fpStore)
	}

	router := mux.NewRouter()
	router.Use(httpx.RequestIDMiddleware, httpx.RecoverMiddleware, httpx.LoggingMiddleware)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", httpx.HealthHandler("escalation", map[string]httpx.DependencyCheck{
		"redis": func(ctx context.Context) error {
			_, err := freqStore.Exists(ctx, "health:probe")
			return err
		},
		"reputation": rep.Ping,
		"breakers": func(ctx context.Context) error {
			status, states := breakers.HealthStatus()
			if status != "HEALTHY" {
				return fmt.Errorf("circuit breakers degraded: %v", states)
			}
			return nil
		},
	})).Methods(http.MethodGet)
	router.HandleFunc("/escalate", engine.Handler).Methods(http.MethodPost)

	if err := httpx.ListenAndServe(":"+cfg.EscalationPort, router, "escalation"); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
