// Package core holds the domain types exchanged between the defense stages.
package core

import (
	"net/http"
	"strings"
	"time"
)

// Routing outcomes for a classified request.
const (
	RouteProxy   = "proxy"
	RouteTarpit  = "tarpit"
	RouteBlocked = "blocked"

	// TarpitPathPrefix is the URL namespace decoy links live under. The edge
	// routes everything beneath it to the tarpit, so a crawler following
	// generated links never reaches the real backend.
	TarpitPathPrefix = "/tarpit"
)

// RequestMetadata is the read-only snapshot of an inbound request, created at
// ingress and passed by value through the pipeline.
type RequestMetadata struct {
	Timestamp      time.Time         `json:"timestamp"`
	ClientIdentity string            `json:"client_identity"` // typically the textual IP
	UserAgent      string            `json:"user_agent"`
	Referer        string            `json:"referer"`
	Path           string            `json:"path"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	OriginHint     string            `json:"origin_hint,omitempty"`
}

// MetadataFromRequest snapshots the fields the pipeline cares about.
// clientIdentity comes from the transport layer (RemoteAddr or a trusted
// forwarding header resolved by the caller).
func MetadataFromRequest(r *http.Request, clientIdentity string) RequestMetadata {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return RequestMetadata{
		Timestamp:      time.Now().UTC(),
		ClientIdentity: clientIdentity,
		UserAgent:      r.Header.Get("User-Agent"),
		Referer:        r.Header.Get("Referer"),
		Path:           r.URL.Path,
		Method:         r.Method,
		Headers:        headers,
		OriginHint:     r.Header.Get("Origin"),
	}
}

// Header looks up a header from the snapshot, case-insensitively.
func (m RequestMetadata) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	canon := http.CanonicalHeaderKey(name)
	if v, ok := m.Headers[canon]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ScoreReport is the output of the escalation scoring pipeline.
// ModelScore is nil when no model was configured or the model stage degraded.
type ScoreReport struct {
	HeuristicScore  float64  `json:"heuristic_score"`
	ModelScore      *float64 `json:"model_score,omitempty"`
	ReputationBonus float64  `json:"reputation_bonus"`
	CombinedScore   float64  `json:"combined_score"`
	Reasons         []string `json:"reasons"`
}

// EventRouteDecision is the operational event type for edge routing
// decisions. Observability only, never part of the enforcement contract.
const EventRouteDecision = "route_decision"

// Event types exchanged between escalation and action stages.
const (
	EventSuspiciousActivity = "suspicious_activity_detected"
	EventMaliciousActivity  = "malicious_activity_detected"
)

// ActionEvent is the immutable record submitted to the action service when a
// client crosses the escalation threshold.
type ActionEvent struct {
	EventType string          `json:"event_type"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp_utc"`
	Metadata  RequestMetadata `json:"details"`
	Score     ScoreReport     `json:"score_report"`
}

// Severity levels used by the alert sinks' minimum-severity gates.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SeverityRank orders severities for gate comparisons. Unknown severities
// rank lowest so misconfigured gates fail toward alerting.
func SeverityRank(s string) int {
	switch strings.ToLower(s) {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// EventSeverity derives the alert severity from an ActionEvent: crossing the
// threshold is always at least a warning; a perfect score is critical.
func EventSeverity(ev ActionEvent) string {
	if ev.Score.CombinedScore >= 0.95 {
		return SeverityCritical
	}
	return SeverityWarning
}
