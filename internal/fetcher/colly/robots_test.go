package collyfetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
)

func TestRobotsRetryReturnsAllowAllOnTimeout(t *testing.T) {
	t.Parallel()

	probes := newRobotsProbes()
	base := &stubRoundTripper{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	transport := &robotsAwareTransport{base: base, probes: probes}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "User-agent: *\nAllow: /" {
		t.Fatalf("unexpected fallback body: %q", string(body))
	}
	if base.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", base.calls)
	}

	page := crawler.FetchResponse{URL: "https://EXAMPLE.com/about"}
	probes.apply(&page)
	if page.RobotsStatus != crawler.RobotsStatusIndeterminate || page.RobotsReason != robotsFallbackReasonTimeout {
		t.Fatalf("expected indeterminate robots status, got %q %q", page.RobotsStatus, page.RobotsReason)
	}

	other := crawler.FetchResponse{URL: "https://other.example.com/"}
	probes.apply(&other)
	if other.RobotsStatus != crawler.RobotsStatusUnknown {
		t.Fatalf("expected other hosts untouched, got %q", other.RobotsStatus)
	}
}

func TestRobotsRetryStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	probes := newRobotsProbes()
	base := &stubRoundTripper{
		results: []roundTripResult{
			{err: context.DeadlineExceeded},
			{resp: httptest.NewRecorder().Result()},
		},
	}
	transport := &robotsAwareTransport{base: base, probes: probes}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	_ = resp.Body.Close()
	if base.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", base.calls)
	}
	page := crawler.FetchResponse{URL: "https://example.com/"}
	probes.apply(&page)
	if page.RobotsStatus != crawler.RobotsStatusUnknown {
		t.Fatalf("expected robots status to remain unknown, got %q", page.RobotsStatus)
	}
}

func TestRobotsTransportPassesThroughPages(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{resp: httptest.NewRecorder().Result()}}}
	transport := &robotsAwareTransport{base: base, probes: newRobotsProbes()}
	resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "https://example.com/page", nil))
	if err != nil {
		t.Fatalf("RoundTrip returned error: %v", err)
	}
	_ = resp.Body.Close()
	if base.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", base.calls)
	}
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	return res.resp, res.err
}
