package classifier

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpx"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/robots"
)

// ClientIdentity resolves the client identifier for a request. The edge sits
// behind the site's TLS terminator, so forwarding headers are trusted when
// present; otherwise the socket peer address is used.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// EdgeHandler terminates the decision protocol in HTTP: proxy, 403, or
// divert to the tarpit service.
type EdgeHandler struct {
	classifier *Classifier
	robots     *robots.Refresher
	backend    *httputil.ReverseProxy
	tarpit     *httputil.ReverseProxy
}

// NewEdgeHandler builds the edge's reverse proxies. The tarpit proxy flushes
// continuously so slow-streamed decoy chunks reach the client as they are
// written.
func NewEdgeHandler(c *Classifier, rb *robots.Refresher, backendURL, tarpitURL string) (*EdgeHandler, error) {
	backend, err := url.Parse(backendURL)
	if err != nil {
		return nil, err
	}
	tarpit, err := url.Parse(tarpitURL)
	if err != nil {
		return nil, err
	}

	backendProxy := httputil.NewSingleHostReverseProxy(backend)
	tarpitProxy := httputil.NewSingleHostReverseProxy(tarpit)
	tarpitProxy.FlushInterval = -1

	return &EdgeHandler{
		classifier: c,
		robots:     rb,
		backend:    backendProxy,
		tarpit:     tarpitProxy,
	}, nil
}

func (h *EdgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	md := core.MetadataFromRequest(r, ClientIdentity(r))
	decision := h.classifier.Decide(r.Context(), md)

	switch decision.Route {
	case core.RouteBlocked:
		httpx.WriteError(w, r, http.StatusForbidden, httpx.CodeUnauthorized, "access denied")
	case core.RouteTarpit:
		// The client identity must survive the hop so the tarpit's hop
		// counter charges the right client.
		r.Header.Set("X-Forwarded-For", md.ClientIdentity)
		h.tarpit.ServeHTTP(w, r)
	default:
		h.backend.ServeHTTP(w, r)
	}
}

// RobotsHandler serves the current robots artifact verbatim so crawlers and
// the defense agree on what is disallowed.
func (h *EdgeHandler) RobotsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(h.robots.Current().Raw()))
}
