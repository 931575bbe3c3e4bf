package classifier

import "strings"

// defaultBenignBots are substrings of crawler User-Agents that are honored as
// long as they respect robots.txt. Matching is case-insensitive.
var defaultBenignBots = []string{
	"googlebot",
	"bingbot",
	"duckduckbot",
	"baiduspider",
	"yandexbot",
	"slurp",
	"applebot",
	"facebookexternalhit",
	"twitterbot",
	"linkedinbot",
	"pinterestbot",
	"slackbot",
}

// defaultHostileAgents are substrings of User-Agents that identify scrapers,
// AI crawlers, and attack tooling. A match is the strongest single heuristic
// signal.
var defaultHostileAgents = []string{
	"gptbot",
	"ccbot",
	"bytespider",
	"claudebot",
	"anthropic-ai",
	"google-extended",
	"omgili",
	"diffbot",
	"scrapy",
	"python-requests",
	"python-urllib",
	"aiohttp",
	"go-http-client",
	"java/",
	"libwww-perl",
	"curl",
	"wget",
	"httpclient",
	"okhttp",
	"phantomjs",
	"headlesschrome",
	"masscan",
	"nmap",
	"nikto",
	"sqlmap",
	"zgrab",
}

// AgentMatcher classifies User-Agent strings by case-insensitive substring.
type AgentMatcher struct {
	benign  []string
	hostile []string
}

// NewAgentMatcher builds a matcher. Empty slices keep the built-in lists, so
// an absent overlay changes nothing.
func NewAgentMatcher(benign, hostile []string) *AgentMatcher {
	m := &AgentMatcher{benign: defaultBenignBots, hostile: defaultHostileAgents}
	if len(benign) > 0 {
		m.benign = lowerAll(benign)
	}
	if len(hostile) > 0 {
		m.hostile = lowerAll(hostile)
	}
	return m
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// IsBenignBot reports whether ua belongs to an honored crawler.
func (m *AgentMatcher) IsBenignBot(ua string) bool {
	return matchAny(ua, m.benign)
}

// IsHostile reports whether ua matches the hostile tooling list.
func (m *AgentMatcher) IsHostile(ua string) bool {
	return matchAny(ua, m.hostile)
}

func matchAny(ua string, needles []string) bool {
	if ua == "" {
		return false
	}
	lower := strings.ToLower(ua)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
