package tarpit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/classifier"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
)

const fingerprintTTL = 7 * 24 * time.Hour

// Fingerprint is the coarse client profile posted by the beacon script
// embedded in decoy pages. Real headless scrapers either skip it entirely or
// report profiles that contradict their headers.
type Fingerprint struct {
	UserAgent string `json:"ua"`
	Language  string `json:"l"`
	Platform  string `json:"p"`
	Width     int    `json:"w"`
	Height    int    `json:"h"`
	Timezone  string `json:"tz"`
}

// storedFingerprint is what lands in the KV store, keyed by client identity.
type storedFingerprint struct {
	Fingerprint
	HeaderUserAgent string    `json:"header_ua"`
	ReceivedAt      time.Time `json:"received_at"`
}

// FingerprintHandler accepts beacon posts and records them for offline
// analysis. Always answers 204; the beacon is best-effort by design of the
// embedding script, and errors would only teach scrapers what we store.
func (s *Service) FingerprintHandler(w http.ResponseWriter, r *http.Request) {
	var fp Fingerprint
	if !httpx.DecodeJSON(w, r, &fp) {
		return
	}
	if s.fingerprints == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	id := classifier.ClientIdentity(r)
	record := storedFingerprint{
		Fingerprint:     fp,
		HeaderUserAgent: r.Header.Get("User-Agent"),
		ReceivedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err == nil {
		err = s.fingerprints.Set(r.Context(), "fp:"+id, data, fingerprintTTL)
	}
	if err != nil {
		slog.Warn("fingerprint store failed", "client", id, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// WithFingerprintStore attaches the fingerprint keyspace. Separate from New
// because only deployments with ENABLE_FINGERPRINTING set carry it.
func (s *Service) WithFingerprintStore(client kv.Client) *Service {
	s.fingerprints = client
	return s
}
