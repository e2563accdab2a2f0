// Package detector decides when a plain HTTP probe must be re-fetched in a
// browser because the page is rendered client-side.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
)

const (
	defaultMinTextChars  = 200
	scriptDensityPercent = 25
)

// appShellSelectors match the mount points of common client-side frameworks.
var appShellSelectors = strings.Join([]string{
	"#__next",
	"#___gatsby",
	"#root",
	"#app",
	"[data-reactroot]",
	"[data-v-app]",
	"[ng-version]",
}, ", ")

// Heuristic promotes responses that look like an application shell: a known
// framework mount point with little server-rendered text, a page dominated by
// script, or a noscript plea to enable JavaScript.
type Heuristic struct {
	// MinTextChars is the visible body text below which a page counts as thin.
	MinTextChars int
}

// NewHeuristic creates a detector. A non-positive threshold uses the default.
func NewHeuristic(minTextChars int) *Heuristic {
	if minTextChars <= 0 {
		minTextChars = defaultMinTextChars
	}
	return &Heuristic{MinTextChars: minTextChars}
}

// ShouldPromote implements crawler.Detector.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}

	thin := visibleTextLength(doc) < h.MinTextChars
	if !thin {
		return false
	}
	if doc.Find(appShellSelectors).Length() > 0 {
		return true
	}
	if strings.Contains(strings.ToLower(doc.Find("noscript").Text()), "javascript") {
		return true
	}
	return scriptDensity(doc, len(resp.Body)) >= scriptDensityPercent
}

func visibleTextLength(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(body.Text()), " "))
}

// scriptDensity is the share of the document, in percent, taken by inline
// script text plus one tag's worth per external script.
func scriptDensity(doc *goquery.Document, total int) int {
	if total == 0 {
		return 0
	}
	const tagOverhead = len("<script></script>")
	covered := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		covered += len(s.Text()) + tagOverhead
		if src, ok := s.Attr("src"); ok {
			covered += len(src)
		}
	})
	return covered * 100 / total
}
