package gen

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/markov"
)

func testCorpus() *markov.MemoryCorpus {
	c := markov.NewMemoryCorpus()
	c.AddSentence("the", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog")
	c.AddSentence("a", "stitch", "in", "time", "saves", "nine", "every", "single", "day")
	c.AddSentence("all", "work", "and", "no", "play", "makes", "a", "dull", "archive")
	c.AddSentence("the", "archive", "holds", "records", "of", "every", "known", "entry")
	return c
}

func TestDeriveSeedStablePerInput(t *testing.T) {
	assert.Equal(t, DeriveSeed("seed", "/a"), DeriveSeed("seed", "/a"))
	assert.NotEqual(t, DeriveSeed("seed", "/a"), DeriveSeed("seed", "/b"))
	assert.NotEqual(t, DeriveSeed("seed", "/a"), DeriveSeed("other", "/a"))
}

func TestDeriveSeedSeparatesSeedFromPath(t *testing.T) {
	assert.NotEqual(t, DeriveSeed("ab", "c"), DeriveSeed("a", "bc"))
}

func TestPageIsByteIdenticalForSamePath(t *testing.T) {
	g := New(testCorpus(), "test-seed", "/tarpit")

	first := RenderHTML(g.Page(context.Background(), "/tarpit/archive/records-1"), false)
	second := RenderHTML(g.Page(context.Background(), "/tarpit/archive/records-1"), false)

	assert.Equal(t, first, second)
}

func TestPageDiffersAcrossPaths(t *testing.T) {
	g := New(testCorpus(), "test-seed", "/tarpit")

	a := RenderHTML(g.Page(context.Background(), "/tarpit/a"), false)
	b := RenderHTML(g.Page(context.Background(), "/tarpit/b"), false)

	assert.NotEqual(t, a, b)
}

func TestPageDiffersAcrossSystemSeeds(t *testing.T) {
	a := New(testCorpus(), "seed-one", "/tarpit").Page(context.Background(), "/tarpit/x")
	b := New(testCorpus(), "seed-two", "/tarpit").Page(context.Background(), "/tarpit/x")

	assert.NotEqual(t, RenderHTML(a, false), RenderHTML(b, false))
}

func TestPageStructure(t *testing.T) {
	g := New(testCorpus(), "test-seed", "/tarpit")
	p := g.Page(context.Background(), "/tarpit/archive/entry-7")

	assert.False(t, p.Degraded)
	assert.NotEmpty(t, p.Title)
	assert.GreaterOrEqual(t, len(p.Paragraphs), minParagraphs)
	assert.LessOrEqual(t, len(p.Paragraphs), maxParagraphs)
	assert.GreaterOrEqual(t, len(p.Links), minLinks)
	assert.LessOrEqual(t, len(p.Links), maxLinks)

	for _, link := range p.Links {
		assert.True(t, strings.HasPrefix(link, "/tarpit/"), "link %q stays under the tarpit prefix", link)
	}
}

type failingCorpus struct{}

func (failingCorpus) Candidates(context.Context, string, string) ([]markov.Candidate, error) {
	return nil, assert.AnError
}
func (failingCorpus) Ping(context.Context) error { return assert.AnError }

func TestDegradedCorpusStillProducesPage(t *testing.T) {
	g := New(failingCorpus{}, "test-seed", "/tarpit")
	p := g.Page(context.Background(), "/tarpit/x")

	assert.True(t, p.Degraded)
	assert.Equal(t, cannedParagraphs, p.Paragraphs)
	assert.NotEmpty(t, p.Links, "links still vary so the crawler keeps walking")

	again := g.Page(context.Background(), "/tarpit/x")
	assert.Equal(t, RenderHTML(p, false), RenderHTML(again, false))
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	p := Page{
		Title:      `<script>alert("x")</script>`,
		Paragraphs: []string{`a < b & c`},
		Links:      []string{`/tarpit/a"b`},
	}
	out := string(RenderHTML(p, false))

	assert.NotContains(t, out, `<script>alert`)
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "a &lt; b &amp; c")
}

func TestRenderHTMLFingerprintToggle(t *testing.T) {
	g := New(testCorpus(), "test-seed", "/tarpit")
	p := g.Page(context.Background(), "/tarpit/x")

	plain := string(RenderHTML(p, false))
	beaconed := string(RenderHTML(p, true))

	assert.NotContains(t, plain, "/tarpit/fp")
	assert.Contains(t, beaconed, "/tarpit/fp")
}

func TestWalkTerminatesOnThinCorpus(t *testing.T) {
	c := markov.NewMemoryCorpus()
	// Single looping transition, no boundary exit.
	c.Add(markov.Boundary, markov.Boundary, "loop", 1)
	c.Add(markov.Boundary, "loop", "loop", 1)
	c.Add("loop", "loop", "loop", 1)

	g := New(c, "test-seed", "/tarpit")
	p := g.Page(context.Background(), "/tarpit/x")

	require.False(t, p.Degraded)
	for _, para := range p.Paragraphs {
		words := strings.Fields(para)
		assert.LessOrEqual(t, len(words), maxWalkWords)
	}
}
