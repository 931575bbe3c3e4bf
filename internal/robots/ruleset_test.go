package robots

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRobots = `# site robots
User-agent: Googlebot
Disallow: /google-only/

User-agent: *
Disallow: /private/
Disallow: /admin
disallow: /tmp/
Disallow: /
Disallow:

User-agent: Bingbot
Disallow: /bing-only/
`

func TestParseWildcardGroupOnly(t *testing.T) {
	rs := Parse(sampleRobots)
	assert.ElementsMatch(t, []string{"/private/", "/admin", "/tmp/"}, rs.Rules())
}

func TestIsDisallowedPrefixMatch(t *testing.T) {
	rs := Parse(sampleRobots)

	assert.True(t, rs.IsDisallowed("/private/keys"))
	assert.True(t, rs.IsDisallowed("/admin"))
	assert.True(t, rs.IsDisallowed("/administrator")) // prefix semantics
	assert.False(t, rs.IsDisallowed("/public/about"))
	assert.False(t, rs.IsDisallowed("/"))
	assert.False(t, rs.IsDisallowed("/google-only/page"), "other agents' groups are ignored")
}

func TestSlashOnlyDisallowIsIgnored(t *testing.T) {
	rs := Parse("User-agent: *\nDisallow: /\n")
	assert.Empty(t, rs.Rules())
	assert.False(t, rs.IsDisallowed("/anything"))
}

func TestEmptyDocumentDisallowsNothing(t *testing.T) {
	rs := Parse("")
	assert.False(t, rs.IsDisallowed("/private/keys"))
}

func TestDirectiveNamesAreCaseInsensitivePathsAreNot(t *testing.T) {
	rs := Parse("USER-AGENT: *\nDISALLOW: /Private/\n")
	assert.True(t, rs.IsDisallowed("/Private/x"))
	assert.False(t, rs.IsDisallowed("/private/x"))
}

func TestConsecutiveAgentLinesShareGroup(t *testing.T) {
	rs := Parse("User-agent: Googlebot\nUser-agent: *\nDisallow: /shared/\n")
	assert.True(t, rs.IsDisallowed("/shared/page"))
}

func TestAgentLineAfterDirectivesStartsNewGroup(t *testing.T) {
	rs := Parse("User-agent: *\nDisallow: /a/\nUser-agent: Bingbot\nDisallow: /b/\n")
	assert.True(t, rs.IsDisallowed("/a/x"))
	assert.False(t, rs.IsDisallowed("/b/x"))
}

func TestRefresherIdenticalBytesObservationallyIdentical(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "robots.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleRobots), 0o600))

	r := NewRefresher(path, 0)
	before := r.Current()

	r.reload()
	after := r.Current()

	assert.Equal(t, before.Rules(), after.Rules())
	assert.Equal(t, before.Raw(), after.Raw())
}

func TestRefresherPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "robots.txt")
	require.NoError(t, os.WriteFile(path, []byte("User-agent: *\nDisallow: /old/\n"), 0o600))

	r := NewRefresher(path, time.Hour)
	assert.True(t, r.Current().IsDisallowed("/old/x"))

	require.NoError(t, os.WriteFile(path, []byte("User-agent: *\nDisallow: /new/\n"), 0o600))
	r.reload()

	assert.False(t, r.Current().IsDisallowed("/old/x"))
	assert.True(t, r.Current().IsDisallowed("/new/x"))
}

func TestRefresherMissingFileMeansEmptyRuleset(t *testing.T) {
	r := NewRefresher("/nonexistent/robots.txt", 0)
	require.NotNil(t, r.Current())
	assert.Empty(t, r.Current().Rules())
}

func TestRefresherKeepsPreviousOnReadFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "robots.txt")
	require.NoError(t, os.WriteFile(path, []byte("User-agent: *\nDisallow: /keep/\n"), 0o600))

	r := NewRefresher(path, 0)
	require.NoError(t, os.Remove(path))
	r.reload()

	assert.True(t, r.Current().IsDisallowed("/keep/x"), "stale rules beat no rules")
}
