package analyzers

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// ContentID identifies the content analyzer.
const ContentID = "content"

const (
	minWords         = 150
	minTextToMarkup  = 0.10
	contentVersion   = "1.0.0"
	thinContentWords = 50
)

// Content measures how much readable text a page carries relative to its
// markup.
type Content struct{}

// NewContent creates the content analyzer.
func NewContent() *Content { return &Content{} }

// ID implements analyzer.Analyzer.
func (*Content) ID() string { return ContentID }

// Version implements analyzer.Analyzer.
func (*Content) Version() string { return contentVersion }

// AnalyzeContent implements analyzer.StaticContentAnalyzer. It returns an
// ad-hoc map that the invoker normalizes.
func (*Content) AnalyzeContent(_ context.Context, _ string, html string, doc *goquery.Document) (any, error) {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	words := strings.Fields(body.Text())
	text := strings.Join(words, " ")

	ratio := 0.0
	if len(html) > 0 {
		ratio = float64(len(text)) / float64(len(html))
	}

	var f findings
	switch {
	case len(words) < thinContentWords:
		f.fail("thin-content", evaluation.ImpactSerious, "page has very little readable text", "Add substantive text content to the page")
	case len(words) < minWords:
		f.fail("low-word-count", evaluation.ImpactModerate, "page has fewer than 150 words", "Expand the page copy to at least 150 words")
	default:
		f.pass("word-count")
	}
	if ratio < minTextToMarkup {
		f.fail("low-text-ratio", evaluation.ImpactMinor, "text makes up less than 10% of the document", "Reduce markup overhead or add more text")
	} else {
		f.pass("text-ratio")
	}

	return map[string]any{
		"score":           f.score(),
		"issues":          f.issues,
		"passes":          f.passes,
		"recommendations": f.recommendations,
		"metrics": map[string]any{
			"word_count":      len(words),
			"text_to_markup":  ratio,
			"html_size_bytes": len(html),
		},
		"paragraphs": doc.Find("p").Length(),
	}, nil
}
