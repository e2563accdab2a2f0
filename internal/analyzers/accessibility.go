package analyzers

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// AccessibilityID identifies the accessibility analyzer.
const AccessibilityID = "accessibility"

// Accessibility runs a few structural WCAG checks on the DOM.
type Accessibility struct{}

// NewAccessibility creates the accessibility analyzer.
func NewAccessibility() *Accessibility { return &Accessibility{} }

// ID implements analyzer.Analyzer.
func (*Accessibility) ID() string { return AccessibilityID }

// Version implements analyzer.Analyzer.
func (*Accessibility) Version() string { return "1.0.0" }

// AnalyzeDOM implements analyzer.DOMAnalyzer.
func (*Accessibility) AnalyzeDOM(ctx context.Context, url string, doc *goquery.Document) (any, error) {
	var f findings

	if lang, _ := doc.Find("html").First().Attr("lang"); strings.TrimSpace(lang) == "" {
		f.fail("html-lang", evaluation.ImpactSerious, "html element has no lang attribute", "Declare the page language with <html lang>")
	} else {
		f.pass("html-lang")
	}

	images := doc.Find("img")
	missingAlt := images.FilterFunction(func(_ int, s *goquery.Selection) bool {
		_, ok := s.Attr("alt")
		return !ok
	}).Length()
	if missingAlt > 0 {
		f.fail("image-alt", evaluation.ImpactSerious, fmt.Sprintf("%d images have no alt text", missingAlt), "Give every image an alt attribute")
	} else {
		f.pass("image-alt")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlabelled := doc.Find("input, select, textarea").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return !labelled(doc, s)
	}).Length()
	if unlabelled > 0 {
		f.fail("form-label", evaluation.ImpactModerate, fmt.Sprintf("%d form fields have no label", unlabelled), "Associate a label with every form field")
	} else {
		f.pass("form-label")
	}

	return &evaluation.AnalysisResult{
		URL:             url,
		OverallScore:    f.score(),
		Issues:          f.issues,
		Passes:          f.passes,
		Recommendations: f.recommendations,
		Metrics: map[string]any{
			"images":             images.Length(),
			"images_missing_alt": missingAlt,
			"unlabelled_fields":  unlabelled,
		},
	}, nil
}

func labelled(doc *goquery.Document, field *goquery.Selection) bool {
	if typ, _ := field.Attr("type"); typ == "hidden" || typ == "submit" || typ == "button" {
		return true
	}
	for _, attr := range []string{"aria-label", "aria-labelledby", "title"} {
		if v, ok := field.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return true
		}
	}
	if field.ParentsFiltered("label").Length() > 0 {
		return true
	}
	id, ok := field.Attr("id")
	if !ok || id == "" {
		return false
	}
	return doc.Find("label").FilterFunction(func(_ int, l *goquery.Selection) bool {
		forID, _ := l.Attr("for")
		return forID == id
	}).Length() > 0
}
