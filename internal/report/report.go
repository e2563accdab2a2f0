// Package report folds analyzer results into page, site and project summaries
// and assigns rating bands.
package report

import (
	"math"
	"sort"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// Band thresholds; each band is closed at its lower bound.
const (
	excellentFloor = 90.0
	goodFloor      = 75.0
	fairFloor      = 60.0
	poorFloor      = 40.0
)

// Rating is the arithmetic mean of every score strictly greater than zero.
// Zero scores come from failed analyzers (or errored pages) and are left out of
// the denominator. Returns 0 when nothing scored.
func Rating(scores []float64) float64 {
	var (
		sum   float64
		count int
	)
	for _, s := range scores {
		if math.IsNaN(s) || s <= 0 {
			continue
		}
		sum += s
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Classify maps a rating onto its band.
func Classify(rating float64) evaluation.Class {
	switch {
	case rating >= excellentFloor:
		return evaluation.ClassExcellent
	case rating >= goodFloor:
		return evaluation.ClassGood
	case rating >= fairFloor:
		return evaluation.ClassFair
	case rating >= poorFloor:
		return evaluation.ClassPoor
	default:
		return evaluation.ClassCritical
	}
}

// Summary is the roll-up of many analyzer results.
type Summary struct {
	OverallScore    float64            `json:"overall_score"`
	Class           evaluation.Class   `json:"class"`
	Issues          []evaluation.Issue `json:"issues"`
	Recommendations []string           `json:"recommendations"`
	Metrics         map[string]any     `json:"metrics"`
}

// Aggregate merges analyzer results keyed by analyzer id. Issues and
// recommendations are de-duplicated by exact text in first-occurrence order
// (analyzer ids visited in sorted order), then issues are stably ordered by
// impact.
func Aggregate(results map[string]evaluation.AnalysisResult) Summary {
	ids := sortedKeys(results)
	scores := make([]float64, 0, len(ids))
	acc := newAccumulator()
	metrics := make(map[string]any, len(ids))
	for _, id := range ids {
		res := results[id]
		scores = append(scores, res.OverallScore)
		acc.add(res)
		metrics[id] = cloneMetrics(res.Metrics)
	}
	rating := Rating(scores)
	return Summary{
		OverallScore:    rating,
		Class:           Classify(rating),
		Issues:          acc.sortedIssues(),
		Recommendations: acc.recommendations,
		Metrics:         metrics,
	}
}

// SummarizeSite flattens every page of a site into one summary. The overall
// score is the site rating; metrics are keyed by page name, then analyzer id.
func SummarizeSite(site evaluation.SiteReport) Summary {
	names := sortedKeys(site.PageReports)
	acc := newAccumulator()
	metrics := make(map[string]any, len(names))
	for _, name := range names {
		page := site.PageReports[name]
		for _, id := range sortedKeys(page.Results) {
			acc.add(page.Results[id])
		}
		pageMetrics := make(map[string]any, len(page.Results))
		for id, res := range page.Results {
			pageMetrics[id] = cloneMetrics(res.Metrics)
		}
		metrics[name] = pageMetrics
	}
	rating := SiteRating(site.PageReports)
	return Summary{
		OverallScore:    rating,
		Class:           Classify(rating),
		Issues:          acc.sortedIssues(),
		Recommendations: acc.recommendations,
		Metrics:         metrics,
	}
}

// SiteRating is the plain mean of PageRating over every page that was fetched.
// Errored pages leave the denominator; a fetched page rated 0 stays in it.
func SiteRating(pages map[string]evaluation.PageReport) float64 {
	var sum float64
	n := 0
	for _, page := range pages {
		if page.Errored() {
			continue
		}
		sum += page.PageRating
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func hasFetchedPage(site evaluation.SiteReport) bool {
	for _, page := range site.PageReports {
		if !page.Errored() {
			return true
		}
	}
	return false
}

// ProjectReport rolls several site reports into one rating.
type ProjectReport struct {
	Name          string             `json:"name"`
	ProjectRating float64            `json:"project_rating"`
	ProjectClass  evaluation.Class   `json:"project_class"`
	Sites         map[string]Summary `json:"sites"`
}

// BuildProject summarizes each site and takes the plain mean of the ratings of
// sites with at least one fetched page.
func BuildProject(name string, sites ...evaluation.SiteReport) ProjectReport {
	summaries := make(map[string]Summary, len(sites))
	var sum float64
	n := 0
	for _, site := range sites {
		summary := SummarizeSite(site)
		summaries[site.WebsiteURL] = summary
		if !hasFetchedPage(site) {
			continue
		}
		sum += summary.OverallScore
		n++
	}
	var rating float64
	if n > 0 {
		rating = sum / float64(n)
	}
	return ProjectReport{
		Name:          name,
		ProjectRating: rating,
		ProjectClass:  Classify(rating),
		Sites:         summaries,
	}
}

type accumulator struct {
	issues          []evaluation.Issue
	recommendations []string
	seenIssues      map[string]struct{}
	seenRecs        map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		issues:          []evaluation.Issue{},
		recommendations: []string{},
		seenIssues:      make(map[string]struct{}),
		seenRecs:        make(map[string]struct{}),
	}
}

func (a *accumulator) add(res evaluation.AnalysisResult) {
	for _, issue := range res.Issues {
		if _, ok := a.seenIssues[issue.Description]; ok {
			continue
		}
		a.seenIssues[issue.Description] = struct{}{}
		a.issues = append(a.issues, issue)
	}
	for _, rec := range res.Recommendations {
		if _, ok := a.seenRecs[rec]; ok {
			continue
		}
		a.seenRecs[rec] = struct{}{}
		a.recommendations = append(a.recommendations, rec)
	}
}

func (a *accumulator) sortedIssues() []evaluation.Issue {
	out := append([]evaluation.Issue(nil), a.issues...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Impact.Rank() < out[j].Impact.Rank()
	})
	if out == nil {
		return []evaluation.Issue{}
	}
	return out
}

func cloneMetrics(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
