package analyzers

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// SEOID identifies the SEO analyzer.
const SEOID = "seo"

// SEO checks the on-page basics search engines rely on.
type SEO struct{}

// NewSEO creates the SEO analyzer.
func NewSEO() *SEO { return &SEO{} }

// ID implements analyzer.Analyzer.
func (*SEO) ID() string { return SEOID }

// Version implements analyzer.Analyzer.
func (*SEO) Version() string { return "1.0.0" }

// AnalyzeDOM implements analyzer.DOMAnalyzer.
func (*SEO) AnalyzeDOM(_ context.Context, url string, doc *goquery.Document) (any, error) {
	var f findings

	title := strings.TrimSpace(doc.Find("head title").First().Text())
	switch n := len([]rune(title)); {
	case n == 0:
		f.fail("missing-title", evaluation.ImpactSerious, "page has no title", "Add a descriptive <title> element")
	case n < 30 || n > 60:
		f.fail("title-length", evaluation.ImpactMinor, fmt.Sprintf("title is %d characters", n), "Keep the title between 30 and 60 characters")
	default:
		f.pass("title")
	}

	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	desc = strings.TrimSpace(desc)
	if desc == "" {
		f.fail("missing-meta-description", evaluation.ImpactModerate, "page has no meta description", "Add a meta description summarizing the page")
	} else {
		f.pass("meta-description")
	}

	h1 := doc.Find("h1").Length()
	switch {
	case h1 == 0:
		f.fail("missing-h1", evaluation.ImpactModerate, "page has no h1 heading", "Add a single h1 heading")
	case h1 > 1:
		f.fail("multiple-h1", evaluation.ImpactMinor, "page has more than one h1 heading", "Use only one h1 heading")
	default:
		f.pass("h1")
	}

	canonical, hasCanonical := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !hasCanonical || strings.TrimSpace(canonical) == "" {
		f.fail("missing-canonical", evaluation.ImpactMinor, "page declares no canonical URL", "Add a canonical link element")
	} else {
		f.pass("canonical")
	}

	return evaluation.AnalysisResult{
		URL:             url,
		OverallScore:    f.score(),
		Issues:          f.issues,
		Passes:          f.passes,
		Recommendations: f.recommendations,
		Metrics: map[string]any{
			"title_length": len([]rune(title)),
			"h1_count":     h1,
		},
		Details: map[string]any{"title": title, "canonical": canonical},
	}, nil
}
