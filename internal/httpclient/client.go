// Package httpclient provides the shared outbound HTTP client used for model
// scoring, reputation lookups, alert webhooks, and community reporting. It
// layers bounded retries with backoff and a per-host circuit breaker on top
// of a pooled transport.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = 500 * time.Millisecond
	maxBackoff         = 15 * time.Second
	maxRetryAfter      = 30 * time.Second
)

// Client wraps http.Client with retries and per-host circuit breaking.
type Client struct {
	http        *http.Client
	breakers    *circuitbreaker.Manager
	metrics     *metrics.Metrics
	maxRetries  int
	baseBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets the retry budget (attempts beyond the first).
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseBackoff sets the first retry delay; each retry doubles it.
func WithBaseBackoff(d time.Duration) Option {
	return func(c *Client) { c.baseBackoff = d }
}

// WithBreakers shares an external breaker manager between clients.
func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(c *Client) { c.breakers = m }
}

// New creates a Client with a pooled transport.
func New(m *metrics.Metrics, opts ...Option) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	c := &Client{
		http:        &http.Client{Transport: transport, Timeout: 10 * time.Second},
		breakers:    circuitbreaker.NewManager(nil),
		metrics:     m,
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable reports whether a status code is worth another attempt.
// 4xx other than 429 means the request itself is wrong; retrying won't help.
func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryDelay picks the wait before attempt n, honoring Retry-After when the
// server sent one. Retry-After is capped so a hostile header cannot stall us.
func (c *Client) retryDelay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				d := time.Duration(secs) * time.Second
				if d > maxRetryAfter {
					d = maxRetryAfter
				}
				return d
			}
			if at, err := http.ParseTime(ra); err == nil {
				d := time.Until(at)
				if d > maxRetryAfter {
					d = maxRetryAfter
				}
				if d > 0 {
					return d
				}
			}
		}
	}

	d := c.baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Do sends the request, retrying transient failures. The body (if any) must
// be replayable, which is the case for requests built with http.NewRequest
// from a *bytes.Reader or similar. Callers own closing the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	breaker := c.breakers.Get(host)

	if err := breaker.Allow(); err != nil {
		c.observeBreaker(host, breaker)
		return nil, fmt.Errorf("httpclient: %s: %w", host, err)
	}

	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.OutboundRetries.WithLabelValues(host).Inc()
			delay := c.retryDelay(attempt-1, lastResp)
			drain(lastResp)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
		}

		attemptReq, err := cloneRequest(req)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(attemptReq)
		if err != nil {
			lastErr = err
			lastResp = nil
			continue
		}

		if !retryable(resp.StatusCode) {
			c.record(host, breaker, resp.StatusCode < 500)
			return resp, nil
		}

		lastErr = fmt.Errorf("httpclient: %s %s: status %d", req.Method, req.URL, resp.StatusCode)
		lastResp = resp
	}

	drain(lastResp)
	c.record(host, breaker, false)
	slog.Warn("outbound request exhausted retries",
		"host", host, "method", req.Method, "error", lastErr)
	return nil, lastErr
}

// PostJSON sends pre-encoded JSON and retries safely because the payload is
// a byte slice.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req)
}

// record feeds the breaker outside Execute; Allow was already consumed.
func (c *Client) record(host string, breaker *circuitbreaker.CircuitBreaker, success bool) {
	if success {
		_, _ = breaker.Execute(func() (interface{}, error) { return nil, nil })
	} else {
		_, _ = breaker.Execute(func() (interface{}, error) { return nil, fmt.Errorf("upstream failure") })
	}
	c.observeBreaker(host, breaker)
}

func (c *Client) observeBreaker(host string, breaker *circuitbreaker.CircuitBreaker) {
	c.metrics.BreakerState.WithLabelValues(host).Set(float64(breaker.State()))
}

// cloneRequest produces a fresh request for one attempt, rewinding the body
// via GetBody when present.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("httpclient: request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("httpclient: rewind body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// drain discards and closes a response we are not returning so the
// connection can be reused.
func drain(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
