package httpx

import (
	"context"
	"net/http"
	"time"
)

// DependencyCheck probes one dependency. Return nil for healthy.
type DependencyCheck func(ctx context.Context) error

// HealthHandler reports per-dependency status. Overall status is "ok" when
// everything passes, "degraded" when some dependencies fail, and "error"
// when all of them do.
func HealthHandler(service string, checks map[string]DependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		deps := make(map[string]string, len(checks))
		failed := 0
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = "error: " + err.Error()
				failed++
			} else {
				deps[name] = "ok"
			}
		}

		overall := "ok"
		switch {
		case len(checks) > 0 && failed == len(checks):
			overall = "error"
		case failed > 0:
			overall = "degraded"
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"status":       overall,
			"service":      service,
			"dependencies": deps,
		})
	}
}
