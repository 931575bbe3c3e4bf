package escalation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/classifier"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/model"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/reputation"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/window"
)

type fixedAdapter struct {
	score   float64
	present bool
	err     error
}

func (f fixedAdapter) Classify(context.Context, core.RequestMetadata) (float64, bool, error) {
	return f.score, f.present, f.err
}
func (f fixedAdapter) Name() string { return "fixed" }

type actionRecorder struct {
	mu     sync.Mutex
	events []core.ActionEvent
	srv    *httptest.Server
}

func newActionRecorder() *actionRecorder {
	rec := &actionRecorder{}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev core.ActionEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rec.mu.Lock()
		rec.events = append(rec.events, ev)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	return rec
}

func (a *actionRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func (a *actionRecorder) last() core.ActionEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

type engineHarness struct {
	engine  *Engine
	redis   *miniredis.Miniredis
	kv      *kv.RedisClient
	actions *actionRecorder
}

func newEngine(t *testing.T, adapter model.Adapter, threshold float64, repURL string) *engineHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := kv.NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	actions := newActionRecorder()
	t.Cleanup(actions.srv.Close)

	m := metrics.NewForTest()
	hc := httpclient.New(m, httpclient.WithMaxRetries(0), httpclient.WithTimeout(2*time.Second))
	freq := window.NewFrequencyTracker(client, time.Minute)
	h := classifier.NewHeuristic(classifier.NewAgentMatcher(nil, nil))
	rep := reputation.New(hc, repURL, "", 0.5, 0.2)

	eng := New(freq, h, adapter, rep, client, hc, actions.srv.URL, threshold, time.Second, m)
	return &engineHarness{engine: eng, redis: mr, kv: client, actions: actions}
}

func curlMetadata(id string) core.RequestMetadata {
	return core.RequestMetadata{
		Timestamp:      time.Now().UTC(),
		ClientIdentity: id,
		UserAgent:      "curl/8.0.1",
		Path:           "/api/data",
		Method:         "GET",
		Headers:        map[string]string{"User-Agent": "curl/8.0.1"},
	}
}

func browserMetadata(id string) core.RequestMetadata {
	return core.RequestMetadata{
		Timestamp:      time.Now().UTC(),
		ClientIdentity: id,
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) Firefox/126.0",
		Path:           "/",
		Method:         "GET",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0",
			"Accept-Language": "en-US",
			"Sec-Fetch-Site":  "none",
			"Accept":          "text/html",
		},
	}
}

func TestHostileClientCrossesThresholdAndEmits(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")

	res := h.engine.Process(context.Background(), curlMetadata("203.0.113.1"))

	assert.True(t, res.ActionTaken)
	assert.Equal(t, 1.0, res.Report.CombinedScore)
	assert.Nil(t, res.Report.ModelScore)
	require.Equal(t, 1, h.actions.count())

	ev := h.actions.last()
	assert.Equal(t, core.EventMaliciousActivity, ev.EventType)
	assert.Equal(t, "203.0.113.1", ev.Metadata.ClientIdentity)
	assert.Contains(t, strings.Join(ev.Score.Reasons, " "), ">= threshold")
}

func TestBenignClientStaysBelowThreshold(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")

	res := h.engine.Process(context.Background(), browserMetadata("203.0.113.2"))

	assert.False(t, res.ActionTaken)
	assert.Zero(t, h.actions.count())
}

func TestCombinedExactlyAtThresholdEmits(t *testing.T) {
	// Heuristic for curl is 1.0; model 0.6 -> combined 0.5 + 0.3 = 0.8.
	h := newEngine(t, fixedAdapter{score: 0.6, present: true}, 0.8, "")

	res := h.engine.Process(context.Background(), curlMetadata("203.0.113.3"))

	assert.InDelta(t, 0.8, res.Report.CombinedScore, 1e-9)
	assert.True(t, res.ActionTaken, "the threshold comparison is inclusive")
}

func TestModelPresentUsesWeightedCombination(t *testing.T) {
	h := newEngine(t, fixedAdapter{score: 0.4, present: true}, 0.95, "")

	res := h.engine.Process(context.Background(), curlMetadata("203.0.113.4"))

	require.NotNil(t, res.Report.ModelScore)
	assert.InDelta(t, 0.4, *res.Report.ModelScore, 1e-9)
	assert.InDelta(t, 0.7, res.Report.CombinedScore, 1e-9)
	assert.False(t, res.ActionTaken)
}

func TestModelFailureOmitsModelScore(t *testing.T) {
	h := newEngine(t, fixedAdapter{err: assert.AnError}, 0.8, "")

	res := h.engine.Process(context.Background(), curlMetadata("203.0.113.5"))

	assert.Nil(t, res.Report.ModelScore)
	assert.Equal(t, 1.0, res.Report.CombinedScore, "falls back to heuristic-only combination")
	assert.True(t, res.ActionTaken)
}

func TestFrequencyBonusTiers(t *testing.T) {
	h := newEngine(t, model.Absent{}, 2.0, "") // threshold unreachable, scoring only
	ctx := context.Background()
	md := browserMetadata("203.0.113.6")

	base := h.engine.Process(ctx, md).Report.HeuristicScore

	h.redis.Set("freq:203.0.113.6", "35")
	low := h.engine.Process(ctx, md).Report.HeuristicScore
	assert.InDelta(t, freqBonusLow, low-base, 1e-9)

	h.redis.Set("freq:203.0.113.6", "150")
	high := h.engine.Process(ctx, md).Report.HeuristicScore
	assert.InDelta(t, freqBonusHigh, high-base, 1e-9)
}

func TestDegradedFrequencyStageStillEmits(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")
	h.redis.SetError("connection refused")

	res := h.engine.Process(context.Background(), curlMetadata("203.0.113.7"))

	assert.Contains(t, res.Report.Reasons, "frequency_unavailable")
	assert.True(t, res.ActionTaken, "heuristic still crosses the threshold")
}

func TestPriorTarpitVisitAddsBonus(t *testing.T) {
	h := newEngine(t, model.Absent{}, 2.0, "")
	ctx := context.Background()
	md := browserMetadata("203.0.113.8")

	base := h.engine.Process(ctx, md).Report.HeuristicScore

	require.NoError(t, h.kv.Set(ctx, "visited:203.0.113.8", []byte("1"), time.Hour))
	bumped := h.engine.Process(ctx, md).Report

	assert.InDelta(t, priorTarpitBonus, bumped.HeuristicScore-base, 1e-9)
	assert.Contains(t, bumped.Reasons, "prior_tarpit_visit")
}

func TestReputationBonusApplied(t *testing.T) {
	rep := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"severity": 0.9})
	}))
	defer rep.Close()

	// Browser heuristic is ~0, so the combined score equals the bonus.
	h := newEngine(t, model.Absent{}, 2.0, rep.URL)
	res := h.engine.Process(context.Background(), browserMetadata("203.0.113.9"))

	assert.InDelta(t, 0.2, res.Report.ReputationBonus, 1e-9)
	assert.Contains(t, res.Report.Reasons, "malicious_reputation")
}

func TestHandlerReturnsScoreAndAction(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")

	body, err := json.Marshal(curlMetadata("203.0.113.10"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	h.engine.Handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp escalateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "processed", resp.Status)
	assert.True(t, resp.ActionTaken)
	assert.Equal(t, 1.0, resp.Score.CombinedScore)
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")

	req := httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.engine.Handler(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestHandlerRequiresClientIdentity(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")

	req := httptest.NewRequest(http.MethodPost, "/escalate", strings.NewReader(`{"path":"/x"}`))
	rec := httptest.NewRecorder()
	h.engine.Handler(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPoolProcessesAndDrops(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")
	m := metrics.NewForTest()
	pool := NewPool(h.engine, 2, 4, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	assert.True(t, pool.Submit(curlMetadata("203.0.113.11")))

	require.Eventually(t, func() bool { return h.actions.count() >= 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool did not stop on cancellation")
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")
	pool := NewPool(h.engine, 1, 1, metrics.NewForTest())

	// No workers running: first Submit fills the queue, second drops.
	assert.True(t, pool.Submit(curlMetadata("a")))
	assert.False(t, pool.Submit(curlMetadata("b")))
}

func TestFingerprintNotedWithoutScoreChange(t *testing.T) {
	h := newEngine(t, model.Absent{}, 0.8, "")
	h.engine.WithFingerprintStore(h.kv)
	md := curlMetadata("203.0.113.77")

	baseline := h.engine.Process(context.Background(), md)
	require.NotContains(t, baseline.Report.Reasons, "fingerprint_captured")

	require.NoError(t, h.kv.Set(context.Background(),
		"fp:203.0.113.77", []byte("{}"), time.Hour))

	noted := h.engine.Process(context.Background(), md)
	assert.Contains(t, noted.Report.Reasons, "fingerprint_captured")
	assert.InDelta(t, baseline.Report.CombinedScore, noted.Report.CombinedScore, 0.001,
		"fingerprint presence is informational")
}

type countingAdapter struct {
	calls atomic.Int32
	err   error
}

func (c *countingAdapter) Classify(context.Context, core.RequestMetadata) (float64, bool, error) {
	c.calls.Add(1)
	return 0, false, c.err
}
func (c *countingAdapter) Name() string { return "counting" }

func TestModelBreakerOpensAndSkipsAdapter(t *testing.T) {
	adapter := &countingAdapter{err: assert.AnError}
	h := newEngine(t, adapter, 2.0, "") // threshold unreachable, scoring only
	breakers := circuitbreaker.NewDefenseBreakers()
	h.engine.WithBreakers(breakers)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := h.engine.Process(ctx, browserMetadata("203.0.113.60"))
		assert.Nil(t, res.Report.ModelScore)
	}
	require.Equal(t, circuitbreaker.StateOpen, breakers.Model.State(),
		"three consecutive model failures trip the breaker")

	res := h.engine.Process(ctx, browserMetadata("203.0.113.60"))
	assert.Nil(t, res.Report.ModelScore)
	assert.EqualValues(t, 3, adapter.calls.Load(),
		"an open breaker never reaches the adapter")
}

func TestBreakersStayClosedOnHealthyStages(t *testing.T) {
	h := newEngine(t, fixedAdapter{score: 0.6, present: true}, 0.8, "")
	h.engine.WithBreakers(circuitbreaker.NewDefenseBreakers())

	res := h.engine.Process(context.Background(), curlMetadata("203.0.113.61"))

	assert.InDelta(t, 0.8, res.Report.CombinedScore, 1e-9)
	assert.True(t, res.ActionTaken)
	require.Equal(t, 1, h.actions.count())
}

func TestWebhookBreakerShortCircuitsSubmissions(t *testing.T) {
	var posts atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	h := newEngine(t, model.Absent{}, 0.8, "")
	h.engine.actionURL = failing.URL
	breakers := circuitbreaker.NewDefenseBreakers()
	h.engine.WithBreakers(breakers)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := h.engine.Process(ctx, curlMetadata("203.0.113.62"))
		assert.False(t, res.ActionTaken)
	}
	require.Equal(t, circuitbreaker.StateOpen, breakers.Webhook.State())

	res := h.engine.Process(ctx, curlMetadata("203.0.113.62"))
	assert.False(t, res.ActionTaken)
	assert.EqualValues(t, 3, posts.Load(),
		"an open breaker stops paying the webhook timeout")
}
