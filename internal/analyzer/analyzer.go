// Package analyzer defines the contract external analyzers implement and the
// invoker that runs them with caching, timeouts and output normalization.
package analyzer

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-evaluator/internal/browser"
)

// Analyzer identifies an analyzer. Every analyzer also implements exactly one
// of StaticContentAnalyzer, DOMAnalyzer or LivePageAnalyzer.
type Analyzer interface {
	ID() string
	Version() string
}

// StaticContentAnalyzer inspects the rendered HTML and its parsed DOM.
type StaticContentAnalyzer interface {
	Analyzer
	AnalyzeContent(ctx context.Context, url, html string, doc *goquery.Document) (any, error)
}

// DOMAnalyzer inspects only the parsed DOM.
type DOMAnalyzer interface {
	Analyzer
	AnalyzeDOM(ctx context.Context, url string, doc *goquery.Document) (any, error)
}

// LivePageAnalyzer needs the live browser page as well as the parsed DOM.
type LivePageAnalyzer interface {
	Analyzer
	AnalyzeLive(ctx context.Context, url string, page browser.Page, doc *goquery.Document) (any, error)
}

// Convention is the calling convention an analyzer uses.
type Convention int

// Supported calling conventions.
const (
	ConventionStatic Convention = iota + 1
	ConventionDOM
	ConventionLive
)

func (c Convention) String() string {
	switch c {
	case ConventionStatic:
		return "static"
	case ConventionDOM:
		return "dom"
	case ConventionLive:
		return "live"
	default:
		return "unknown"
	}
}

// ConventionOf reports which convention a implements. Implementing none or
// more than one is an error.
func ConventionOf(a Analyzer) (Convention, error) {
	var found []Convention
	if _, ok := a.(StaticContentAnalyzer); ok {
		found = append(found, ConventionStatic)
	}
	if _, ok := a.(DOMAnalyzer); ok {
		found = append(found, ConventionDOM)
	}
	if _, ok := a.(LivePageAnalyzer); ok {
		found = append(found, ConventionLive)
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return 0, fmt.Errorf("analyzer %q implements no calling convention", a.ID())
	default:
		return 0, fmt.Errorf("analyzer %q implements %d calling conventions", a.ID(), len(found))
	}
}
