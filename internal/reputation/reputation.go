// Package reputation looks up client identities against an external IP
// reputation service. The result only ever adds to a score; a failed or
// disabled lookup contributes nothing.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
)

const maxReputationBody = 16 << 10

// Client queries the reputation backend.
type Client struct {
	http        *httpclient.Client
	url         string
	apiKey      string
	minSeverity float64
	bonus       float64
}

// New builds a reputation client. url empty means lookups are disabled and
// Bonus always returns zero.
func New(http *httpclient.Client, url, apiKey string, minSeverity, bonus float64) *Client {
	return &Client{
		http:        http,
		url:         url,
		apiKey:      apiKey,
		minSeverity: minSeverity,
		bonus:       bonus,
	}
}

// Enabled reports whether a backend is configured.
func (c *Client) Enabled() bool { return c.url != "" }

// lookupResponse is the backend's verdict. Severity is the backend's
// maliciousness estimate in [0,1].
type lookupResponse struct {
	Severity float64 `json:"severity"`
	Category string  `json:"category"`
}

// Lookup returns the raw severity for id.
func (c *Client) Lookup(ctx context.Context, id string) (float64, error) {
	if !c.Enabled() {
		return 0, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("reputation: build request: %w", err)
	}
	q := req.URL.Query()
	q.Set("ip", id)
	req.URL.RawQuery = q.Encode()
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("reputation: lookup %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown IP: no reputation either way.
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("reputation: backend returned %d", resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReputationBody)).Decode(&lr); err != nil {
		return 0, fmt.Errorf("reputation: parse response: %w", err)
	}
	return lr.Severity, nil
}

// Bonus returns the score bonus for id: the configured bonus when severity
// exceeds the threshold, zero otherwise.
func (c *Client) Bonus(ctx context.Context, id string) (float64, error) {
	severity, err := c.Lookup(ctx, id)
	if err != nil {
		return 0, err
	}
	if severity > c.minSeverity {
		return c.bonus, nil
	}
	return 0, nil
}

// Ping probes the backend for the health map. Disabled clients are healthy.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := c.Lookup(ctx, "198.51.100.1")
	return err
}
