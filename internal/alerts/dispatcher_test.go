package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/config"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

func testEvent(score float64) core.ActionEvent {
	return core.ActionEvent{
		EventType: core.EventMaliciousActivity,
		Reason:    "combined score crossed escalation threshold",
		Timestamp: time.Now().UTC(),
		Metadata: core.RequestMetadata{
			ClientIdentity: "203.0.113.1",
			UserAgent:      "curl/8.0.1",
			Path:           "/api/data",
		},
		Score: core.ScoreReport{CombinedScore: score},
	}
}

func testHTTP() *httpclient.Client {
	return httpclient.New(metrics.NewForTest(),
		httpclient.WithMaxRetries(0), httpclient.WithTimeout(2*time.Second))
}

type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
	min    string
	err    error
}

func (c *captureSink) Deliver(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}
func (c *captureSink) Name() string        { return "capture" }
func (c *captureSink) MinSeverity() string { return c.min }

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func TestDispatchFansOutToAllSinks(t *testing.T) {
	a := &captureSink{min: core.SeverityInfo}
	b := &captureSink{min: core.SeverityInfo}
	d := NewDispatcher([]Sink{a, b}, 2, 16, metrics.NewForTest())
	defer d.Shutdown()

	d.Dispatch(testEvent(0.85))

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSeverityGateFilters(t *testing.T) {
	criticalOnly := &captureSink{min: core.SeverityCritical}
	warnAndUp := &captureSink{min: core.SeverityWarning}
	d := NewDispatcher([]Sink{criticalOnly, warnAndUp}, 1, 16, metrics.NewForTest())
	defer d.Shutdown()

	// Score 0.85 renders as warning: below the critical gate.
	d.Dispatch(testEvent(0.85))
	require.Eventually(t, func() bool { return warnAndUp.count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Zero(t, criticalOnly.count())

	// Score 0.97 is critical: passes both gates.
	d.Dispatch(testEvent(0.97))
	require.Eventually(t, func() bool { return criticalOnly.count() == 1 && warnAndUp.count() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestSinkFailureDoesNotStopOthers(t *testing.T) {
	failing := &captureSink{min: core.SeverityInfo, err: assert.AnError}
	healthy := &captureSink{min: core.SeverityInfo}
	d := NewDispatcher([]Sink{failing, healthy}, 1, 16, metrics.NewForTest())
	defer d.Shutdown()

	d.Dispatch(testEvent(0.85))

	require.Eventually(t, func() bool { return healthy.count() == 1 },
		time.Second, 5*time.Millisecond)
}

type downSink struct {
	attempts atomic.Int32
}

func (s *downSink) Deliver(context.Context, Alert) error {
	s.attempts.Add(1)
	return assert.AnError
}
func (s *downSink) Name() string        { return "down" }
func (s *downSink) MinSeverity() string { return core.SeverityInfo }

func TestBreakerStopsDeliveriesToDownReceiver(t *testing.T) {
	sink := &downSink{}
	breakers := circuitbreaker.NewDefenseBreakers()
	d := NewDispatcher([]Sink{sink}, 1, 16, metrics.NewForTest()).
		WithBreaker(breakers.Alerts)
	defer d.Shutdown()

	for i := 0; i < 6; i++ {
		d.Dispatch(testEvent(0.85))
	}
	require.Eventually(t, func() bool {
		return breakers.Alerts.State() == circuitbreaker.StateOpen
	}, time.Second, 5*time.Millisecond, "sustained failures trip the alerts breaker")

	tripped := sink.attempts.Load()
	for i := 0; i < 3; i++ {
		d.Dispatch(testEvent(0.85))
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, tripped, sink.attempts.Load(),
		"an open breaker rejects deliveries before they reach the sink")
}

func TestWebhookSinkPostsFullAlert(t *testing.T) {
	var got Alert
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err == nil {
			received <- struct{}{}
		}
	}))
	defer srv.Close()

	s := NewWebhookSink(testHTTP(), srv.URL, core.SeverityWarning)
	require.NoError(t, s.Deliver(context.Background(), FromEvent(testEvent(0.9))))

	<-received
	assert.Equal(t, core.SeverityWarning, got.Severity)
	assert.Equal(t, "203.0.113.1", got.Event.Metadata.ClientIdentity)
}

func TestChatSinkPostsTextPayload(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	s := NewChatSink(testHTTP(), srv.URL, core.SeverityWarning)
	require.NoError(t, s.Deliver(context.Background(), FromEvent(testEvent(0.9))))

	require.Contains(t, body, "text")
	assert.Contains(t, body["text"], "203.0.113.1")
}

func TestSMTPSinkBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	s := NewSMTPSink("mail.internal", 587, "defense@example.com",
		"ops@example.com, sec@example.com", core.SeverityWarning)
	s.send = func(addr, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, s.Deliver(context.Background(), FromEvent(testEvent(0.9))))
	assert.Equal(t, "mail.internal:587", gotAddr)
	assert.Equal(t, "defense@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com", "sec@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [WARNING]")
}

func TestSinksFromConfig(t *testing.T) {
	cfg := &config.Config{
		AlertWebhookURL:  "http://hooks.internal/defense",
		AlertChatURL:     "http://chat.internal/hook",
		AlertSMTPHost:    "mail.internal",
		AlertSMTPPort:    587,
		AlertSMTPFrom:    "defense@example.com",
		AlertSMTPTo:      "ops@example.com",
		AlertMinSeverity: "warning",
	}
	overlay := &config.Overlay{
		AlertSinks: []config.AlertSinkConfig{
			{Kind: "webhook", URL: "http://extra.internal/hook", MinSeverity: "critical"},
			{Kind: "bogus"},
		},
	}

	sinks := SinksFromConfig(cfg, overlay, testHTTP())
	require.Len(t, sinks, 4, "three env sinks plus one overlay sink; unknown kinds skipped")

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"webhook", "chat", "smtp", "webhook"}, names)
	assert.Equal(t, "critical", sinks[3].MinSeverity())
}
