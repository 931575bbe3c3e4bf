package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
)

// CommunityReporter submits confirmed offenders to a shared blocklist
// service. Reports are redacted: identity, agent, path, and score only;
// never the full header snapshot.
type CommunityReporter struct {
	client    *httpclient.Client
	url       string
	apiKey    string
	threshold float64
	breaker   *circuitbreaker.CircuitBreaker // optional
}

// NewCommunityReporter builds a reporter. Empty url disables reporting.
func NewCommunityReporter(client *httpclient.Client, url, apiKey string, threshold float64) *CommunityReporter {
	return &CommunityReporter{client: client, url: url, apiKey: apiKey, threshold: threshold}
}

// Enabled reports whether a reporting endpoint is configured.
func (c *CommunityReporter) Enabled() bool { return c.url != "" }

// WithBreaker guards report submission with a circuit breaker.
func (c *CommunityReporter) WithBreaker(cb *circuitbreaker.CircuitBreaker) *CommunityReporter {
	c.breaker = cb
	return c
}

// communityReport is the redacted wire format.
type communityReport struct {
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	Path       string    `json:"path"`
	Score      float64   `json:"score"`
	EventType  string    `json:"event_type"`
	ObservedAt time.Time `json:"observed_at"`
}

// ShouldReport applies the score gate.
func (c *CommunityReporter) ShouldReport(ev core.ActionEvent) bool {
	return c.Enabled() && ev.Score.CombinedScore >= c.threshold
}

// Report submits the redacted report. Retries ride on the shared client's
// budget.
func (c *CommunityReporter) Report(ctx context.Context, ev core.ActionEvent) error {
	body, err := json.Marshal(communityReport{
		IP:         ev.Metadata.ClientIdentity,
		UserAgent:  ev.Metadata.UserAgent,
		Path:       ev.Metadata.Path,
		Score:      ev.Score.CombinedScore,
		EventType:  ev.EventType,
		ObservedAt: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("action: marshal community report: %w", err)
	}

	post := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("action: build community report: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("action: community endpoint returned %d", resp.StatusCode)
		}
		return nil
	}

	if c.breaker == nil {
		return post()
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, post()
	})
	return err
}
