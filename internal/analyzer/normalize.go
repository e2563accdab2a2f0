package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// errMalformed marks raw output that cannot be coerced into an AnalysisResult.
var errMalformed = errors.New("invalid analyzer output")

// reserved map keys; every other key lands in Details.
var reservedKeys = map[string]struct{}{
	"score":           {},
	"overall_score":   {},
	"issues":          {},
	"passes":          {},
	"recommendations": {},
	"metrics":         {},
	"details":         {},
	"timestamp":       {},
	"version":         {},
	"analyzer_id":     {},
	"url":             {},
}

// Normalize coerces raw analyzer output into an AnalysisResult. raw may be an
// AnalysisResult (value or pointer) or a map[string]any. Identity fields are
// always overwritten with the invocation's values.
func Normalize(raw any, analyzerID, url, version string, now time.Time) (evaluation.AnalysisResult, error) {
	var (
		res evaluation.AnalysisResult
		err error
	)
	switch v := raw.(type) {
	case evaluation.AnalysisResult:
		res = v
	case *evaluation.AnalysisResult:
		if v == nil {
			return evaluation.AnalysisResult{}, fmt.Errorf("%w: nil result", errMalformed)
		}
		res = *v
	case map[string]any:
		res, err = fromMap(v)
		if err != nil {
			return evaluation.AnalysisResult{}, err
		}
	case nil:
		return evaluation.AnalysisResult{}, fmt.Errorf("%w: nil result", errMalformed)
	default:
		return evaluation.AnalysisResult{}, fmt.Errorf("%w: unsupported result type %T", errMalformed, raw)
	}

	if err := checkScore(res.OverallScore); err != nil {
		return evaluation.AnalysisResult{}, err
	}
	res.AnalyzerID = analyzerID
	res.URL = url
	res.Version = version
	if res.Timestamp.IsZero() {
		res.Timestamp = now
	}
	res.Issues = append([]evaluation.Issue(nil), res.Issues...)
	for i := range res.Issues {
		res.Issues[i].Impact = evaluation.ParseImpact(string(res.Issues[i].Impact))
		if res.Issues[i].ID == "" {
			res.Issues[i].ID = fmt.Sprintf("%s-%d", analyzerID, i+1)
		}
	}
	fillEmpty(&res)
	return res, nil
}

func fromMap(m map[string]any) (evaluation.AnalysisResult, error) {
	var res evaluation.AnalysisResult

	rawScore, ok := m["overall_score"]
	if !ok {
		rawScore, ok = m["score"]
	}
	if !ok {
		return res, fmt.Errorf("%w: missing score", errMalformed)
	}
	score, ok := toFloat(rawScore)
	if !ok {
		return res, fmt.Errorf("%w: score is %T, not a number", errMalformed, rawScore)
	}
	res.OverallScore = score

	if rawIssues, ok := m["issues"]; ok && rawIssues != nil {
		issues, err := toIssues(rawIssues)
		if err != nil {
			return res, err
		}
		res.Issues = issues
	}
	if rawPasses, ok := m["passes"]; ok && rawPasses != nil {
		passes, ok := toAnySlice(rawPasses)
		if !ok {
			return res, fmt.Errorf("%w: passes is %T, not a list", errMalformed, rawPasses)
		}
		res.Passes = passes
	}
	if rawRecs, ok := m["recommendations"]; ok && rawRecs != nil {
		recs, err := toStrings(rawRecs)
		if err != nil {
			return res, err
		}
		res.Recommendations = recs
	}
	if rawMetrics, ok := m["metrics"]; ok && rawMetrics != nil {
		metrics, ok := rawMetrics.(map[string]any)
		if !ok {
			return res, fmt.Errorf("%w: metrics is %T, not a mapping", errMalformed, rawMetrics)
		}
		res.Metrics = metrics
	}

	details := map[string]any{}
	if rawDetails, ok := m["details"].(map[string]any); ok {
		for k, v := range rawDetails {
			details[k] = v
		}
	}
	for k, v := range m {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		details[k] = v
	}
	if len(details) > 0 {
		res.Details = details
	}
	return res, nil
}

func checkScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return fmt.Errorf("%w: score is not finite", errMalformed)
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: score %.2f outside [0,100]", errMalformed, score)
	}
	return nil
}

func toIssues(raw any) ([]evaluation.Issue, error) {
	switch v := raw.(type) {
	case []evaluation.Issue:
		return append([]evaluation.Issue(nil), v...), nil
	case []string:
		out := make([]evaluation.Issue, 0, len(v))
		for _, s := range v {
			out = append(out, evaluation.Issue{Impact: evaluation.ImpactMinor, Description: s})
		}
		return out, nil
	case []map[string]any:
		out := make([]evaluation.Issue, 0, len(v))
		for _, m := range v {
			out = append(out, issueFromMap(m))
		}
		return out, nil
	case []any:
		out := make([]evaluation.Issue, 0, len(v))
		for i, item := range v {
			switch entry := item.(type) {
			case string:
				out = append(out, evaluation.Issue{Impact: evaluation.ImpactMinor, Description: entry})
			case map[string]any:
				out = append(out, issueFromMap(entry))
			case evaluation.Issue:
				out = append(out, entry)
			default:
				return nil, fmt.Errorf("%w: issue %d is %T", errMalformed, i, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: issues is %T, not a list", errMalformed, raw)
	}
}

func issueFromMap(m map[string]any) evaluation.Issue {
	issue := evaluation.Issue{
		ID:          stringField(m, "id"),
		Impact:      evaluation.ParseImpact(stringField(m, "impact")),
		Description: stringField(m, "description"),
		Help:        stringField(m, "help"),
	}
	if issue.Description == "" {
		issue.Description = stringField(m, "message")
	}
	return issue
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: recommendation %d is %T", errMalformed, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: recommendations is %T, not a list", errMalformed, raw)
	}
}

func toAnySlice(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return append([]any(nil), v...), true
	case []string:
		out := make([]any, 0, len(v))
		for _, s := range v {
			out = append(out, s)
		}
		return out, true
	case []map[string]any:
		out := make([]any, 0, len(v))
		for _, m := range v {
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func fillEmpty(res *evaluation.AnalysisResult) {
	if res.Issues == nil {
		res.Issues = []evaluation.Issue{}
	}
	if res.Passes == nil {
		res.Passes = []any{}
	}
	if res.Recommendations == nil {
		res.Recommendations = []string{}
	}
	if res.Metrics == nil {
		res.Metrics = map[string]any{}
	}
}
