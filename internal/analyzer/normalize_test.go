package analyzer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

func TestNormalizeMap(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	res, err := Normalize(map[string]any{
		"score": 82,
		"issues": []any{
			"missing meta description",
			map[string]any{"impact": "serious", "message": "no title", "help": "add one"},
		},
		"recommendations": []any{"write a description"},
		"metrics":         map[string]any{"words": 120},
		"details":         map[string]any{"lang": "en"},
		"headings":        3,
	}, "seo", "https://example.com", "2", now)
	require.NoError(t, err)

	require.Equal(t, "seo", res.AnalyzerID)
	require.Equal(t, "https://example.com", res.URL)
	require.Equal(t, "2", res.Version)
	require.Equal(t, now, res.Timestamp)
	require.InDelta(t, 82, res.OverallScore, 1e-9)
	require.Len(t, res.Issues, 2)
	require.Equal(t, evaluation.ImpactMinor, res.Issues[0].Impact)
	require.Equal(t, "seo-1", res.Issues[0].ID)
	require.Equal(t, evaluation.ImpactSerious, res.Issues[1].Impact)
	require.Equal(t, "no title", res.Issues[1].Description)
	require.Equal(t, []string{"write a description"}, res.Recommendations)
	require.Equal(t, map[string]any{"words": 120}, res.Metrics)
	require.Equal(t, map[string]any{"lang": "en", "headings": 3}, res.Details)
	require.NotNil(t, res.Passes)
}

func TestNormalizeStructOverwritesIdentity(t *testing.T) {
	t.Parallel()

	issues := []evaluation.Issue{{Description: "x", Impact: "SERIOUS"}}
	in := evaluation.AnalysisResult{AnalyzerID: "wrong", URL: "wrong", OverallScore: 40, Issues: issues}
	res, err := Normalize(&in, "a11y", "https://example.com/a", "3", time.Unix(0, 0).UTC())
	require.NoError(t, err)
	require.Equal(t, "a11y", res.AnalyzerID)
	require.Equal(t, "https://example.com/a", res.URL)
	require.Equal(t, evaluation.ImpactSerious, res.Issues[0].Impact)
	require.Equal(t, evaluation.Impact("SERIOUS"), issues[0].Impact, "caller's slice must not be mutated")
	require.Empty(t, res.Recommendations)
	require.NotNil(t, res.Metrics)
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	t.Parallel()

	var nilResult *evaluation.AnalysisResult
	cases := map[string]any{
		"nil":             nil,
		"nil pointer":     nilResult,
		"string":          "great page",
		"missing score":   map[string]any{"issues": []string{}},
		"string score":    map[string]any{"score": "90"},
		"negative score":  map[string]any{"score": -1},
		"score over 100":  map[string]any{"score": 100.5},
		"nan score":       map[string]any{"score": math.NaN()},
		"inf score":       evaluation.AnalysisResult{OverallScore: math.Inf(1)},
		"issues not list": map[string]any{"score": 5, "issues": "bad"},
		"bad issue entry": map[string]any{"score": 5, "issues": []any{42}},
		"bad recs":        map[string]any{"score": 5, "recommendations": []any{1}},
		"metrics not map": map[string]any{"score": 5, "metrics": []int{1}},
		"passes not list": map[string]any{"score": 5, "passes": 3},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize(raw, "x", "https://example.com", "1", time.Now())
			require.ErrorIs(t, err, errMalformed)
			require.ErrorContains(t, err, "invalid analyzer output")
		})
	}
}

func TestNormalizeBoundaryScores(t *testing.T) {
	t.Parallel()

	for _, score := range []float64{0, 100} {
		res, err := Normalize(map[string]any{"overall_score": score}, "x", "u", "1", time.Now())
		require.NoError(t, err)
		require.InDelta(t, score, res.OverallScore, 1e-9)
	}
}
