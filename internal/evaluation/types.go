// Package evaluation defines the result model shared by the analyzers, the
// page evaluator, the site crawler and the report aggregator.
package evaluation

import (
	"strings"
	"time"
)

// Impact ranks how severe an issue is.
type Impact string

// Supported impact levels, most severe first.
const (
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// ParseImpact maps free-form impact text onto the supported levels. Unknown
// values are treated as minor.
func ParseImpact(raw string) Impact {
	switch Impact(strings.ToLower(strings.TrimSpace(raw))) {
	case ImpactSerious:
		return ImpactSerious
	case ImpactModerate:
		return ImpactModerate
	default:
		return ImpactMinor
	}
}

// Rank orders impacts for priority sorting; lower sorts first.
func (i Impact) Rank() int {
	switch i {
	case ImpactSerious:
		return 0
	case ImpactModerate:
		return 1
	default:
		return 2
	}
}

// Issue is a single finding reported by an analyzer.
type Issue struct {
	ID          string `json:"id"`
	Impact      Impact `json:"impact"`
	Description string `json:"description"`
	Help        string `json:"help,omitempty"`
}

// AnalysisResult is the canonical output of one analyzer invocation.
type AnalysisResult struct {
	AnalyzerID      string         `json:"analyzer_id"`
	URL             string         `json:"url"`
	OverallScore    float64        `json:"overall_score"`
	Issues          []Issue        `json:"issues"`
	Passes          []any          `json:"passes"`
	Recommendations []string       `json:"recommendations"`
	Metrics         map[string]any `json:"metrics"`
	Details         map[string]any `json:"details,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Version         string         `json:"version"`
}

// IsDegraded reports whether the result stands in for a failed analyzer.
func (r AnalysisResult) IsDegraded() bool {
	return r.OverallScore == 0 && len(r.Issues) == 1 && r.Issues[0].ID == DegradedIssueID
}

// DegradedIssueID marks the single issue carried by a degraded result.
const DegradedIssueID = "analyzer-failure"

// Degraded builds the zero-score result substituted for a failed, timed out or
// malformed analyzer.
func Degraded(analyzerID, url, version, message string, at time.Time) AnalysisResult {
	return AnalysisResult{
		AnalyzerID:   analyzerID,
		URL:          url,
		OverallScore: 0,
		Issues: []Issue{{
			ID:          DegradedIssueID,
			Impact:      ImpactSerious,
			Description: message,
			Help:        "The analyzer did not complete; its score is excluded from the rating.",
		}},
		Passes:          []any{},
		Recommendations: []string{},
		Metrics:         map[string]any{},
		Timestamp:       at,
		Version:         version,
	}
}

// Class is the rating band assigned to pages, sites and projects.
type Class string

// Rating bands. ClassError marks a page that could not be evaluated at all.
const (
	ClassExcellent Class = "Excellent"
	ClassGood      Class = "Good"
	ClassFair      Class = "Fair"
	ClassPoor      Class = "Poor"
	ClassCritical  Class = "Critical"
	ClassError     Class = "Error"
)

// AnalyzerGroup is a named set of analyzers that run concurrently as a unit.
type AnalyzerGroup struct {
	Name             string   `json:"name" mapstructure:"name"`
	Analyzers        []string `json:"analyzers" mapstructure:"analyzers"`
	RequiresLivePage bool     `json:"requires_live_page" mapstructure:"requires_live_page"`
}

// PagePerformance records how one page evaluation spent its time.
type PagePerformance struct {
	TotalMS      float64            `json:"total_ms"`
	GroupMS      map[string]float64 `json:"group_ms"`
	RenderMS     float64            `json:"render_ms,omitempty"`
	Analyzers    int                `json:"analyzers"`
	Failed       int                `json:"failed"`
	Cached       int                `json:"cached"`
	LivePageUsed bool               `json:"live_page_used"`
	Rendered     bool               `json:"rendered"`
}

// PageReport is the immutable outcome of evaluating one page.
type PageReport struct {
	URL                string                    `json:"url"`
	PageName           string                    `json:"page_name"`
	PageRating         float64                   `json:"page_rating"`
	PageClass          Class                     `json:"page_class"`
	Results            map[string]AnalysisResult `json:"results"`
	PerformanceMetrics PagePerformance           `json:"performance_metrics"`
	Error              string                    `json:"error,omitempty"`
}

// Errored reports whether the page could not be evaluated at all.
func (p PageReport) Errored() bool {
	return p.PageClass == ClassError
}

// SitePerformance records crawl-level counters.
type SitePerformance struct {
	CrawlMS         float64 `json:"crawl_ms"`
	PagesDiscovered int     `json:"pages_discovered"`
	PagesEvaluated  int     `json:"pages_evaluated"`
	PagesErrored    int     `json:"pages_errored"`
	MaxDepthReached int     `json:"max_depth_reached"`
}

// SiteReport aggregates the page reports produced by one crawl.
type SiteReport struct {
	WebsiteURL         string                `json:"website_url"`
	WebsiteRating      float64               `json:"website_rating"`
	WebsiteClass       Class                 `json:"website_class"`
	PageReports        map[string]PageReport `json:"page_reports"`
	PerformanceMetrics SitePerformance       `json:"performance_metrics"`
}
