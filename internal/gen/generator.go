// Package gen builds the deterministic decoy pages served by the tarpit.
// Every byte of a page is a pure function of (SYSTEM_SEED, request path):
// the seeded RNG drives the Markov walks, the link set, and the chunk
// delays, so a crawler revisiting a URL sees an unchanged page while two
// different URLs look like distinct documents.
package gen

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"math/rand"
	"path"
	"strings"
	"unicode"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/markov"
)

const (
	minParagraphs = 3
	maxParagraphs = 7
	minLinks      = 6
	maxLinks      = 14

	// Markov walk bounds. Termination is probabilistic once minWalkWords is
	// reached; maxWalkWords is a hard stop for thin corpora with cycles.
	minWalkWords    = 25
	maxWalkWords    = 120
	stopProbability = 0.12
	titleWalkWords  = 8
)

// cannedParagraphs is the low-entropy fallback body used when the corpus is
// unreachable. The tarpit still answers 200 with it.
var cannedParagraphs = []string{
	"This page is part of an archive that is currently being reorganized. " +
		"Some sections may be temporarily unavailable while the migration completes.",
	"Please use the navigation links below to continue browsing the archive. " +
		"Content is restored incrementally and older entries appear first.",
	"If you reached this page from an external link, the document you are " +
		"looking for may have moved to a new location within the archive.",
}

// Page is a fully generated decoy document.
type Page struct {
	Title      string
	Paragraphs []string
	Links      []string // absolute paths under the tarpit prefix
	Degraded   bool     // true when the corpus was unreachable
}

// Generator produces deterministic pages from the corpus.
type Generator struct {
	corpus     markov.Corpus
	systemSeed string
	linkPrefix string // e.g. "/tarpit"
}

// New creates a generator. linkPrefix is prepended to synthetic link paths.
func New(corpus markov.Corpus, systemSeed, linkPrefix string) *Generator {
	return &Generator{
		corpus:     corpus,
		systemSeed: systemSeed,
		linkPrefix: strings.TrimSuffix(linkPrefix, "/"),
	}
}

// Rand returns the seeded RNG for a path. The tarpit streamer uses the same
// derivation for its chunk delays.
func (g *Generator) Rand(reqPath string) *rand.Rand {
	return rand.New(rand.NewSource(DeriveSeed(g.systemSeed, reqPath)))
}

// Page generates the decoy document for reqPath.
func (g *Generator) Page(ctx context.Context, reqPath string) Page {
	rng := g.Rand(reqPath)

	title, degraded := g.walk(ctx, rng, titleWalkWords, titleWalkWords+4)
	nParas := minParagraphs + rng.Intn(maxParagraphs-minParagraphs+1)

	paragraphs := make([]string, 0, nParas)
	for i := 0; i < nParas; i++ {
		p, bad := g.walk(ctx, rng, minWalkWords, maxWalkWords)
		degraded = degraded || bad
		paragraphs = append(paragraphs, p)
	}

	if degraded {
		// Deterministic fallback: canned body, but links still vary by path
		// so the crawler keeps walking.
		title = "Archive"
		paragraphs = cannedParagraphs
	}

	return Page{
		Title:      titleCase(title),
		Paragraphs: paragraphs,
		Links:      g.links(rng, reqPath),
		Degraded:   degraded,
	}
}

// walk performs one seeded Markov walk from the boundary pair. Returns the
// text and whether the corpus degraded mid-walk.
func (g *Generator) walk(ctx context.Context, rng *rand.Rand, minWords, maxWords int) (string, bool) {
	w1, w2 := markov.Boundary, markov.Boundary
	words := make([]string, 0, maxWords)

	for len(words) < maxWords {
		cands, err := g.corpus.Candidates(ctx, w1, w2)
		if err != nil {
			slog.Warn("markov corpus unreachable, using canned body", "error", err)
			return "", true
		}
		if len(cands) == 0 {
			break
		}

		next := pickWeighted(rng, cands)
		if next == markov.Boundary {
			if len(words) >= minWords {
				break
			}
			// Too short: restart the pair at the boundary and keep going.
			w1, w2 = markov.Boundary, markov.Boundary
			continue
		}

		words = append(words, next)
		w1, w2 = w2, next

		if len(words) >= minWords && rng.Float64() < stopProbability {
			break
		}
	}

	if len(words) == 0 {
		return "", true
	}
	return strings.Join(words, " "), false
}

// pickWeighted selects a candidate with probability proportional to its
// frequency. Candidate order is stable (the corpus query orders by word),
// so selection is deterministic under a fixed RNG.
func pickWeighted(rng *rand.Rand, cands []markov.Candidate) string {
	var total int64
	for _, c := range cands {
		total += c.Freq
	}
	if total <= 0 {
		return markov.Boundary
	}
	target := rng.Int63n(total)
	for _, c := range cands {
		target -= c.Freq
		if target < 0 {
			return c.Word
		}
	}
	return cands[len(cands)-1].Word
}

func titleCase(s string) string {
	parts := strings.Fields(s)
	for i, p := range parts {
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

var linkWords = []string{
	"archive", "records", "catalog", "library", "reports", "digest",
	"bulletin", "papers", "journal", "review", "notes", "index",
	"volume", "series", "edition", "annual", "summary", "briefing",
}

// links builds synthetic sibling paths under the tarpit prefix. Paths are
// two segments deep so crawlers always have somewhere new to go.
func (g *Generator) links(rng *rand.Rand, reqPath string) []string {
	n := minLinks + rng.Intn(maxLinks-minLinks+1)
	base := path.Dir(strings.TrimSuffix(reqPath, "/"))
	if base == "." || base == "" {
		base = "/"
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		w1 := linkWords[rng.Intn(len(linkWords))]
		w2 := linkWords[rng.Intn(len(linkWords))]
		out = append(out, fmt.Sprintf("%s%s/%s-%s-%d", g.linkPrefix,
			strings.TrimSuffix(base, "/"), w1, w2, rng.Intn(10000)))
	}
	return out
}

// LabyrinthPage builds the maze variant: same deterministic body, but every
// link leads strictly deeper and the bottom level links nowhere. Depth is
// measured in path segments below the tarpit prefix.
func (g *Generator) LabyrinthPage(ctx context.Context, reqPath string, maxDepth int) Page {
	p := g.Page(ctx, reqPath)

	depth := len(strings.Split(strings.Trim(strings.TrimPrefix(reqPath, g.linkPrefix), "/"), "/"))
	if depth >= maxDepth {
		p.Links = nil
		return p
	}

	rng := g.Rand(reqPath + "#maze")
	base := strings.TrimSuffix(reqPath, "/")
	forward := make([]string, 0, len(p.Links))
	for range p.Links {
		w := linkWords[rng.Intn(len(linkWords))]
		forward = append(forward, fmt.Sprintf("%s/%s-%d", base, w, rng.Intn(10000)))
	}
	p.Links = forward
	return p
}

// fingerprintScript is the optional beacon embedded when fingerprinting is
// enabled. It posts a coarse client profile to the tarpit's /fp endpoint.
const fingerprintScript = `<script>
(function(){try{var p={ua:navigator.userAgent,l:navigator.language,
p:navigator.platform,w:screen.width,h:screen.height,
tz:Intl.DateTimeFormat().resolvedOptions().timeZone};
fetch('/tarpit/fp',{method:'POST',headers:{'Content-Type':'application/json'},
body:JSON.stringify(p)});}catch(e){}})();
</script>`

// RenderHTML renders the page as a complete HTML document. Rendering is
// deterministic: no timestamps, no map iteration, fixed attribute order.
func RenderHTML(p Page, withFingerprint bool) []byte {
	var b strings.Builder
	b.Grow(4096)

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"robots\" content=\"noindex, nofollow\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(p.Title))
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(p.Title))

	for _, para := range p.Paragraphs {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(para))
	}

	b.WriteString("<ul>\n")
	for i, link := range p.Links {
		fmt.Fprintf(&b, "<li><a href=\"%s\">Entry %d</a></li>\n", html.EscapeString(link), i+1)
	}
	b.WriteString("</ul>\n")

	if withFingerprint {
		b.WriteString(fingerprintScript)
		b.WriteString("\n")
	}

	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}
