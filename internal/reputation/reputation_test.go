package reputation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
)

func testHTTP() *httpclient.Client {
	return httpclient.New(metrics.NewForTest(),
		httpclient.WithMaxRetries(0), httpclient.WithTimeout(2*time.Second))
}

func reputationServer(t *testing.T, severities map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.URL.Query().Get("ip")
		sev, ok := severities[ip]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"severity": sev, "category": "scanner"})
	}))
}

func TestBonusAboveThreshold(t *testing.T) {
	srv := reputationServer(t, map[string]float64{"203.0.113.1": 0.9})
	defer srv.Close()

	c := New(testHTTP(), srv.URL, "key", 0.5, 0.2)
	bonus, err := c.Bonus(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	assert.Equal(t, 0.2, bonus)
}

func TestNoBonusAtOrBelowThreshold(t *testing.T) {
	srv := reputationServer(t, map[string]float64{
		"203.0.113.2": 0.5,
		"203.0.113.3": 0.1,
	})
	defer srv.Close()

	c := New(testHTTP(), srv.URL, "", 0.5, 0.2)

	bonus, err := c.Bonus(context.Background(), "203.0.113.2")
	require.NoError(t, err)
	assert.Zero(t, bonus, "severity equal to the threshold earns no bonus")

	bonus, err = c.Bonus(context.Background(), "203.0.113.3")
	require.NoError(t, err)
	assert.Zero(t, bonus)
}

func TestUnknownIPIsNotAnError(t *testing.T) {
	srv := reputationServer(t, nil)
	defer srv.Close()

	c := New(testHTTP(), srv.URL, "", 0.5, 0.2)
	bonus, err := c.Bonus(context.Background(), "192.0.2.200")
	require.NoError(t, err)
	assert.Zero(t, bonus)
}

func TestDisabledClientReturnsZero(t *testing.T) {
	c := New(testHTTP(), "", "", 0.5, 0.2)
	assert.False(t, c.Enabled())

	bonus, err := c.Bonus(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	assert.Zero(t, bonus)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestBackendFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testHTTP(), srv.URL, "", 0.5, 0.2)
	_, err := c.Bonus(context.Background(), "203.0.113.1")
	assert.Error(t, err)
}

func TestAPIKeyHeaderIsSent(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		json.NewEncoder(w).Encode(map[string]any{"severity": 0.0})
	}))
	defer srv.Close()

	c := New(testHTTP(), srv.URL, "secret", 0.5, 0.2)
	_, err := c.Lookup(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
}
