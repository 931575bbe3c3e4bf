package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/circuitbreaker"
)

// The gauge is fed float64(State), so the help text must document the
// State values in their actual order.
func TestBreakerStateHelpMatchesStateEncoding(t *testing.T) {
	require.EqualValues(t, 0, circuitbreaker.StateClosed)
	require.EqualValues(t, 1, circuitbreaker.StateOpen)
	require.EqualValues(t, 2, circuitbreaker.StateHalfOpen)

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.BreakerState.WithLabelValues("model").Set(float64(circuitbreaker.StateOpen))

	families, err := reg.Gather()
	require.NoError(t, err)

	var help string
	for _, mf := range families {
		if mf.GetName() == "defense_breaker_state" {
			help = mf.GetHelp()
		}
	}
	assert.Equal(t, "Circuit breaker state (0 closed, 1 open, 2 half-open)", help)
}
