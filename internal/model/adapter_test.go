package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

func testClient() *httpclient.Client {
	return httpclient.New(metrics.NewForTest(),
		httpclient.WithMaxRetries(0), httpclient.WithTimeout(2*time.Second))
}

func scraperMetadata() core.RequestMetadata {
	return core.RequestMetadata{
		ClientIdentity: "203.0.113.1",
		UserAgent:      "python-requests/2.31",
		Path:           "/api/data",
		Method:         "GET",
		Headers:        map[string]string{"Accept": "*/*"},
	}
}

func TestHeuristicURIGivesAbsentAdapter(t *testing.T) {
	a := New(Options{URI: "heuristic", InitRetries: 1}, testClient())
	_, present, err := a.Classify(context.Background(), scraperMetadata())
	require.NoError(t, err)
	assert.False(t, present)
	assert.Equal(t, "absent", a.Name())
}

func TestEmptyURIGivesAbsentAdapter(t *testing.T) {
	a := New(Options{URI: "", InitRetries: 1}, testClient())
	assert.Equal(t, "absent", a.Name())
}

func TestArtifactAdapterScoresLocally(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	art := map[string]any{
		"weights": map[string]float64{
			"has_user_agent":  -2.0,
			"has_accept_lang": -1.5,
			"wildcard_accept": 1.0,
		},
		"bias": 0.5,
	}
	data, err := json.Marshal(art)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	a := New(Options{URI: "file://" + path, InitRetries: 1}, testClient())
	require.Equal(t, "artifact", a.Name())

	// Scraper: has UA (-2.0), no lang, wildcard (+1.0), bias 0.5 -> z=-0.5.
	score, present, err := a.Classify(context.Background(), scraperMetadata())
	require.NoError(t, err)
	assert.True(t, present)
	assert.InDelta(t, 0.3775, score, 0.01)

	// A browser-ish request scores lower than the scraper.
	browser := scraperMetadata()
	browser.Headers["Accept-Language"] = "en-US"
	browser.Headers["Accept"] = "text/html"
	lower, _, err := a.Classify(context.Background(), browser)
	require.NoError(t, err)
	assert.Less(t, lower, score)
}

func TestArtifactInitFailureFallsBackToAbsent(t *testing.T) {
	a := New(Options{
		URI:         "file:///nonexistent/model.json",
		InitRetries: 2,
		InitDelay:   time.Millisecond,
	}, testClient())

	assert.Equal(t, "absent", a.Name())
	_, present, err := a.Classify(context.Background(), scraperMetadata())
	require.NoError(t, err)
	assert.False(t, present)
}

func TestHTTPAdapterParsesScoreField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]float64{"score": 0.83})
	}))
	defer srv.Close()

	a := New(Options{URI: srv.URL, InitRetries: 1}, testClient())
	score, present, err := a.Classify(context.Background(), scraperMetadata())
	require.NoError(t, err)
	assert.True(t, present)
	assert.InDelta(t, 0.83, score, 1e-9)
}

func TestHTTPAdapterClampsOutOfRangeScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"score": 7.5})
	}))
	defer srv.Close()

	a := New(Options{URI: srv.URL, InitRetries: 1}, testClient())
	score, _, err := a.Classify(context.Background(), scraperMetadata())
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestHTTPAdapterPropagatesUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(Options{URI: srv.URL, InitRetries: 1}, testClient())
	_, _, err := a.Classify(context.Background(), scraperMetadata())
	assert.Error(t, err)
}

func TestLLMAdapterParsesFirstFloat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant",
					"content": "I'd rate this request 0.92 out of 1.0: clearly automated."}},
			},
		})
	}))
	defer srv.Close()

	uri := "llm://" + srv.Listener.Addr().String() + "/v1/chat/completions"
	a := New(Options{URI: uri, InitRetries: 1}, testClient())
	require.Equal(t, "llm", a.Name())

	score, present, err := a.Classify(context.Background(), scraperMetadata())
	require.NoError(t, err)
	assert.True(t, present)
	assert.InDelta(t, 0.92, score, 1e-9)
}

func TestLLMAdapterErrorsWhenReplyHasNoNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hard to say"}},
			},
		})
	}))
	defer srv.Close()

	uri := "llm://" + srv.Listener.Addr().String() + "/v1/chat/completions"
	a := New(Options{URI: uri, InitRetries: 1}, testClient())
	_, _, err := a.Classify(context.Background(), scraperMetadata())
	assert.Error(t, err)
}

func TestUnknownSchemeFallsBackToAbsent(t *testing.T) {
	a := New(Options{URI: "spanner://whatever", InitRetries: 1}, testClient())
	assert.Equal(t, "absent", a.Name())
}

func TestFeaturesAreStable(t *testing.T) {
	f := Features(scraperMetadata())
	assert.Equal(t, float64(len("python-requests/2.31")), f["ua_length"])
	assert.Equal(t, 1.0, f["has_user_agent"])
	assert.Equal(t, 0.0, f["has_accept_lang"])
	assert.Equal(t, 1.0, f["wildcard_accept"])
	assert.Equal(t, 2.0, f["path_depth"])
}
