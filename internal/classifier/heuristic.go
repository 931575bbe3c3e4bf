package classifier

import (
	"strings"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/core"
)

// TarpitThreshold is the heuristic score at which the edge diverts a request
// to the tarpit. The comparison is inclusive; a score of exactly 0.70 diverts.
const TarpitThreshold = 0.70

// Signal weights. The hostile-UA signal alone crosses the threshold only in
// combination with at least one other signal, which is what real scraper
// traffic looks like.
const (
	weightHostileUA      = 0.80
	weightMissingUA      = 0.40
	weightMissingLang    = 0.20
	weightMissingFetch   = 0.15
	weightWildcardAccept = 0.10
	weightMissingReferer = 0.05
	weightUnusualMethod  = 0.20
)

// Reason codes surfaced in decision logs and score reports.
const (
	ReasonHostileUA      = "hostile_user_agent"
	ReasonMissingUA      = "missing_user_agent"
	ReasonMissingLang    = "missing_accept_language"
	ReasonMissingFetch   = "missing_sec_fetch_site"
	ReasonWildcardAccept = "wildcard_accept"
	ReasonMissingReferer = "missing_referer"
	ReasonUnusualMethod  = "unusual_method"
)

var assetSuffixes = []string{
	".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico",
	".woff", ".woff2", ".ttf", ".webp", ".map", ".txt",
}

func isAssetPath(p string) bool {
	lower := strings.ToLower(p)
	for _, suf := range assetSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

func isUsualMethod(m string) bool {
	switch m {
	case "GET", "POST", "HEAD", "OPTIONS":
		return true
	}
	return false
}

// Heuristic computes the weighted suspicion score for a request snapshot.
// The escalation engine reuses the same weights, so edge and escalation
// never disagree about what a signal is worth.
type Heuristic struct {
	agents *AgentMatcher
}

// NewHeuristic wires the heuristic to an agent matcher.
func NewHeuristic(agents *AgentMatcher) *Heuristic {
	return &Heuristic{agents: agents}
}

// Score returns the suspicion score in [0,1] and the matched reason codes.
// An empty User-Agent scores identically to a missing one.
func (h *Heuristic) Score(md core.RequestMetadata) (float64, []string) {
	var score float64
	var reasons []string

	hostile := h.agents.IsHostile(md.UserAgent)
	if hostile {
		score += weightHostileUA
		reasons = append(reasons, ReasonHostileUA)
	}
	if strings.TrimSpace(md.UserAgent) == "" {
		score += weightMissingUA
		reasons = append(reasons, ReasonMissingUA)
	}
	if md.Header("Accept-Language") == "" {
		score += weightMissingLang
		reasons = append(reasons, ReasonMissingLang)
	}
	if !hostile && md.Header("Sec-Fetch-Site") == "" {
		score += weightMissingFetch
		reasons = append(reasons, ReasonMissingFetch)
	}
	if md.Header("Accept") == "*/*" {
		score += weightWildcardAccept
		reasons = append(reasons, ReasonWildcardAccept)
	}
	if md.Referer == "" && md.Path != "/" && !isAssetPath(md.Path) {
		score += weightMissingReferer
		reasons = append(reasons, ReasonMissingReferer)
	}
	if !isUsualMethod(md.Method) {
		score += weightUnusualMethod
		reasons = append(reasons, ReasonUnusualMethod)
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, reasons
}

// IsBenignBot exposes the allowlist check to the edge decision path.
func (h *Heuristic) IsBenignBot(ua string) bool {
	return h.agents.IsBenignBot(ua)
}
