package analyzers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-evaluator/internal/analyzer"
	"github.com/JakeFAU/site-evaluator/internal/browser"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

const goodPage = `<!doctype html>
<html lang="en">
<head>
  <title>Quarterly Widget Report for Careful Readers</title>
  <meta name="description" content="Everything about widgets.">
  <link rel="canonical" href="https://example.com/widgets">
</head>
<body>
  <h1>Widgets</h1>
  <img src="/w.png" alt="A widget">
  <form><label for="q">Search</label><input id="q" type="text"><input type="submit"></form>
  <p>` + "Widgets are small and useful parts of larger machines. " + `</p>
</body>
</html>`

const poorPage = `<html><head></head><body>
  <h1>One</h1><h1>Two</h1>
  <img src="/a.png"><img src="/b.png" alt="">
  <input type="text" name="email">
  <script src="http://cdn.example.com/x.js"></script>
</body></html>`

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func normalize(t *testing.T, raw any, id string) evaluation.AnalysisResult {
	t.Helper()
	res, err := analyzer.Normalize(raw, id, "https://example.com/", "1.0.0", time.Now())
	require.NoError(t, err)
	return res
}

func issueIDs(res evaluation.AnalysisResult) []string {
	ids := make([]string, 0, len(res.Issues))
	for _, issue := range res.Issues {
		ids = append(ids, issue.ID)
	}
	return ids
}

func TestContentAnalyzer(t *testing.T) {
	t.Parallel()

	long := "<html><body><p>" + strings.Repeat("word ", 200) + "</p></body></html>"
	raw, err := NewContent().AnalyzeContent(context.Background(), "https://example.com/", long, parse(t, long))
	require.NoError(t, err)
	res := normalize(t, raw, ContentID)
	require.InDelta(t, 100, res.OverallScore, 1e-9)
	require.Equal(t, 200, res.Metrics["word_count"])
	require.Equal(t, 1, res.Details["paragraphs"])

	raw, err = NewContent().AnalyzeContent(context.Background(), "https://example.com/", poorPage, parse(t, poorPage))
	require.NoError(t, err)
	res = normalize(t, raw, ContentID)
	require.Contains(t, issueIDs(res), "thin-content")
	require.Less(t, res.OverallScore, 100.0)
}

func TestSEOAnalyzer(t *testing.T) {
	t.Parallel()

	raw, err := NewSEO().AnalyzeDOM(context.Background(), "https://example.com/", parse(t, goodPage))
	require.NoError(t, err)
	res := normalize(t, raw, SEOID)
	require.Empty(t, res.Issues)
	require.InDelta(t, 100, res.OverallScore, 1e-9)

	raw, err = NewSEO().AnalyzeDOM(context.Background(), "https://example.com/", parse(t, poorPage))
	require.NoError(t, err)
	res = normalize(t, raw, SEOID)
	require.ElementsMatch(t, []string{"missing-title", "missing-meta-description", "multiple-h1", "missing-canonical"}, issueIDs(res))
	require.InDelta(t, 100-30-15-5-5, res.OverallScore, 1e-9)
	require.Len(t, res.Recommendations, 4)
}

func TestAccessibilityAnalyzer(t *testing.T) {
	t.Parallel()

	raw, err := NewAccessibility().AnalyzeDOM(context.Background(), "https://example.com/", parse(t, goodPage))
	require.NoError(t, err)
	res := normalize(t, raw, AccessibilityID)
	require.Empty(t, res.Issues)

	raw, err = NewAccessibility().AnalyzeDOM(context.Background(), "https://example.com/", parse(t, poorPage))
	require.NoError(t, err)
	res = normalize(t, raw, AccessibilityID)
	require.ElementsMatch(t, []string{"html-lang", "image-alt", "form-label"}, issueIDs(res))
	require.Equal(t, 1, res.Metrics["images_missing_alt"])
	require.InDelta(t, 100-30-30-15, res.OverallScore, 1e-9)
}

type stubPage struct {
	resp browser.Response
}

func (p stubPage) Goto(context.Context, string) (browser.Response, error) { return p.resp, nil }
func (p stubPage) Content(context.Context) (string, error)                { return "", nil }
func (p stubPage) Response() browser.Response                             { return p.resp }
func (p stubPage) Close() error                                           { return nil }

func TestSecurityAnalyzer(t *testing.T) {
	t.Parallel()

	hardened := stubPage{resp: browser.Response{
		URL:    "https://example.com/",
		Status: 200,
		Headers: http.Header{
			"Strict-Transport-Security": {"max-age=63072000"},
			"Content-Security-Policy":   {"default-src 'self'"},
			"X-Content-Type-Options":    {"nosniff"},
			"Referrer-Policy":           {"no-referrer"},
		},
	}}
	raw, err := NewSecurity().AnalyzeLive(context.Background(), "https://example.com/", hardened, parse(t, goodPage))
	require.NoError(t, err)
	res := normalize(t, raw, SecurityID)
	require.Empty(t, res.Issues)
	require.InDelta(t, 100, res.OverallScore, 1e-9)

	mixed := hardened
	raw, err = NewSecurity().AnalyzeLive(context.Background(), "https://example.com/", mixed, parse(t, poorPage))
	require.NoError(t, err)
	require.Equal(t, []string{"mixed-content"}, issueIDs(normalize(t, raw, SecurityID)))

	plain := stubPage{resp: browser.Response{URL: "http://example.com/", Status: 200, Headers: http.Header{}}}
	raw, err = NewSecurity().AnalyzeLive(context.Background(), "http://example.com/", plain, parse(t, goodPage))
	require.NoError(t, err)
	res = normalize(t, raw, SecurityID)
	require.Contains(t, issueIDs(res), "no-https")
	require.InDelta(t, 100-30-15-15-5-5, res.OverallScore, 1e-9)

	_, err = NewSecurity().AnalyzeLive(context.Background(), "https://example.com/", stubPage{}, parse(t, goodPage))
	require.Error(t, err)
}

func TestDefaultGroupsPlan(t *testing.T) {
	t.Parallel()

	reg, err := analyzer.NewRegistry(All()...)
	require.NoError(t, err)
	plan, err := reg.Plan(DefaultGroups())
	require.NoError(t, err)
	require.True(t, plan.RequiresLivePage())
	require.Len(t, plan.Groups(), 3)

	conv := map[string]analyzer.Convention{}
	for _, id := range reg.IDs() {
		_, c, ok := reg.Lookup(id)
		require.True(t, ok)
		conv[id] = c
	}
	require.Equal(t, analyzer.ConventionStatic, conv[ContentID])
	require.Equal(t, analyzer.ConventionDOM, conv[SEOID])
	require.Equal(t, analyzer.ConventionDOM, conv[AccessibilityID])
	require.Equal(t, analyzer.ConventionLive, conv[SecurityID])
}
