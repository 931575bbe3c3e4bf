// Package robots parses robots.txt disallow rules for `User-agent: *` and
// serves them to the edge through an atomically swapped snapshot. Only the
// wildcard group matters here: honored crawlers that identify themselves get
// checked against the same rules every polite bot sees.
package robots

import (
	"bufio"
	"strings"
)

// RuleSet is an immutable snapshot of the disallow prefixes under the `*`
// user-agent. Readers hold one snapshot for the duration of a request.
type RuleSet struct {
	disallow []string
	raw      string
}

// Parse builds a RuleSet from robots.txt content. Directive names match
// case-insensitively; path prefixes keep their case. Rules of "" and "/"
// are dropped: an empty rule is meaningless and a bare "/" would ban
// everything, which is never the intent for the honored-crawler check.
func Parse(content string) *RuleSet {
	rs := &RuleSet{raw: content}

	// Consecutive User-agent lines form one group header; a User-agent line
	// after a directive starts a new group.
	inStarGroup := false
	lastLineWasAgent := false

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		if name == "user-agent" {
			if !lastLineWasAgent {
				inStarGroup = false
			}
			if value == "*" {
				inStarGroup = true
			}
			lastLineWasAgent = true
			continue
		}

		lastLineWasAgent = false
		if name == "disallow" && inStarGroup && value != "" && value != "/" {
			rs.disallow = append(rs.disallow, value)
		}
	}

	return rs
}

// IsDisallowed reports whether path falls under any disallow prefix.
func (rs *RuleSet) IsDisallowed(path string) bool {
	for _, prefix := range rs.disallow {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Rules returns a copy of the active disallow prefixes.
func (rs *RuleSet) Rules() []string {
	return append([]string(nil), rs.disallow...)
}

// Raw returns the source document, served verbatim at GET /robots.txt.
func (rs *RuleSet) Raw() string {
	return rs.raw
}
