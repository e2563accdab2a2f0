// Package analyzers holds the built-in reference analyzers: one per calling
// convention, each scoring a page by deducting points per finding.
package analyzers

import (
	"github.com/JakeFAU/site-evaluator/internal/analyzer"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// Deductions per finding, by impact.
var penalty = map[evaluation.Impact]float64{
	evaluation.ImpactSerious:  30,
	evaluation.ImpactModerate: 15,
	evaluation.ImpactMinor:    5,
}

// findings accumulates issues, passes and recommendations for one analysis.
type findings struct {
	issues          []evaluation.Issue
	passes          []any
	recommendations []string
}

func (f *findings) fail(id string, impact evaluation.Impact, description, help string) {
	f.issues = append(f.issues, evaluation.Issue{ID: id, Impact: impact, Description: description, Help: help})
	if help != "" {
		f.recommendations = append(f.recommendations, help)
	}
}

func (f *findings) pass(id string) {
	f.passes = append(f.passes, id)
}

func (f *findings) score() float64 {
	s := 100.0
	for _, issue := range f.issues {
		s -= penalty[issue.Impact]
	}
	if s < 0 {
		return 0
	}
	return s
}

// All returns one instance of every built-in analyzer.
func All() []analyzer.Analyzer {
	return []analyzer.Analyzer{
		NewContent(),
		NewSEO(),
		NewAccessibility(),
		NewSecurity(),
	}
}

// DefaultGroups is the group schedule used when none is configured.
func DefaultGroups() []evaluation.AnalyzerGroup {
	return []evaluation.AnalyzerGroup{
		{Name: "content", Analyzers: []string{ContentID, SEOID}},
		{Name: "accessibility", Analyzers: []string{AccessibilityID}},
		{Name: "security", Analyzers: []string{SecurityID}, RequiresLivePage: true},
	}
}
