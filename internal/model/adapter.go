// Package model provides the pluggable classifier behind the escalation
// engine. The MODEL_URI scheme selects the variant; every variant answers
// the same question: how bot-like is this request, in [0,1]?
package model

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
)

// Adapter is the uniform classifier contract. present is false when this
// adapter never produces scores (heuristic-only deployments) so the engine
// skips the model term instead of treating it as zero.
type Adapter interface {
	Classify(ctx context.Context, md core.RequestMetadata) (score float64, present bool, err error)
	Name() string
}

// Options configure adapter construction.
type Options struct {
	URI         string
	APIKey      string
	Timeout     time.Duration
	InitRetries int
	InitDelay   time.Duration
}

// New builds the adapter for opts.URI. Initialization is retried; on
// permanent failure the absent adapter is returned and the engine continues
// without a model term.
func New(opts Options, client *httpclient.Client) Adapter {
	retries := opts.InitRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		a, err := build(opts, client)
		if err == nil {
			slog.Info("model adapter ready", "adapter", a.Name(), "uri", redact(opts.URI))
			return a
		}
		lastErr = err
		slog.Warn("model adapter init failed",
			"uri", redact(opts.URI), "attempt", attempt, "error", err)
		if attempt < retries {
			time.Sleep(opts.InitDelay)
		}
	}

	slog.Error("model adapter permanently unavailable, continuing without model",
		"uri", redact(opts.URI), "error", lastErr)
	return Absent{}
}

func build(opts Options, client *httpclient.Client) (Adapter, error) {
	uri := strings.TrimSpace(opts.URI)
	if uri == "" || uri == "heuristic" {
		return Absent{}, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("model: parse MODEL_URI: %w", err)
	}

	switch u.Scheme {
	case "file":
		return loadArtifact(u.Path)
	case "http", "https":
		return &HTTPAdapter{client: client, url: uri, apiKey: opts.APIKey}, nil
	case "llm", "openai":
		return newLLMAdapter(u, opts.APIKey, client)
	default:
		return nil, fmt.Errorf("model: unknown MODEL_URI scheme %q", u.Scheme)
	}
}

// redact strips userinfo and query from a URI before logging it.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "(unparseable)"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// Absent is the heuristic-only sentinel: no score, no error.
type Absent struct{}

func (Absent) Classify(context.Context, core.RequestMetadata) (float64, bool, error) {
	return 0, false, nil
}

func (Absent) Name() string { return "absent" }

// clamp keeps model outputs inside the contract range.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
