package analyzers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-evaluator/internal/browser"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// SecurityID identifies the security analyzer.
const SecurityID = "security"

// securityHeaders are checked on the main document response.
var securityHeaders = []struct {
	name   string
	id     string
	impact evaluation.Impact
	help   string
}{
	{"Strict-Transport-Security", "missing-hsts", evaluation.ImpactModerate, "Send a Strict-Transport-Security header"},
	{"Content-Security-Policy", "missing-csp", evaluation.ImpactModerate, "Define a Content-Security-Policy"},
	{"X-Content-Type-Options", "missing-nosniff", evaluation.ImpactMinor, "Send X-Content-Type-Options: nosniff"},
	{"Referrer-Policy", "missing-referrer-policy", evaluation.ImpactMinor, "Set a Referrer-Policy"},
}

// Security inspects the live navigation: the final scheme, the response
// security headers and mixed-content references.
type Security struct{}

// NewSecurity creates the security analyzer.
func NewSecurity() *Security { return &Security{} }

// ID implements analyzer.Analyzer.
func (*Security) ID() string { return SecurityID }

// Version implements analyzer.Analyzer.
func (*Security) Version() string { return "1.0.0" }

// AnalyzeLive implements analyzer.LivePageAnalyzer.
func (*Security) AnalyzeLive(_ context.Context, pageURL string, page browser.Page, doc *goquery.Document) (any, error) {
	resp := page.Response()
	if resp.Status == 0 {
		return nil, errors.New("no main document response recorded")
	}
	final := resp.URL
	if final == "" {
		final = pageURL
	}
	u, err := url.Parse(final)
	if err != nil {
		return nil, err
	}

	var f findings
	https := u.Scheme == "https"
	if !https {
		f.fail("no-https", evaluation.ImpactSerious, "page is not served over HTTPS", "Serve the page over HTTPS")
	} else {
		f.pass("https")
	}

	present := 0
	for _, h := range securityHeaders {
		if strings.TrimSpace(resp.Headers.Get(h.name)) == "" {
			f.fail(h.id, h.impact, h.name+" header is missing", h.help)
			continue
		}
		present++
		f.pass(h.id)
	}

	mixed := 0
	if https {
		mixed = doc.Find("script[src], img[src], link[href], iframe[src]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			ref := s.AttrOr("src", s.AttrOr("href", ""))
			return strings.HasPrefix(strings.ToLower(ref), "http://")
		}).Length()
		if mixed > 0 {
			f.fail("mixed-content", evaluation.ImpactModerate, "page loads resources over plain HTTP", "Load every subresource over HTTPS")
		}
	}

	return map[string]any{
		"score":           f.score(),
		"issues":          f.issues,
		"passes":          f.passes,
		"recommendations": f.recommendations,
		"metrics": map[string]any{
			"status":           resp.Status,
			"security_headers": present,
			"mixed_content":    mixed,
		},
	}, nil
}
