package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/metrics"
)

const robotsFallbackReasonTimeout = "robots.txt timeout"

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsAwareTransport retries robots.txt probes that time out and, when they
// keep failing, answers with an allow-all file so the page fetch proceeds.
type robotsAwareTransport struct {
	base   http.RoundTripper
	probes *robotsProbes
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if t.probes == nil || !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.probes.roundTripWithRetry(req, t.base)
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

type robotsOutcome struct {
	status crawler.RobotsStatus
	reason string
}

// robotsProbes remembers, per host, robots.txt probes that fell back.
type robotsProbes struct {
	mu     sync.RWMutex
	byHost map[string]robotsOutcome
}

func newRobotsProbes() *robotsProbes {
	return &robotsProbes{byHost: make(map[string]robotsOutcome)}
}

// apply copies any recorded fallback for the response's host onto resp.
func (p *robotsProbes) apply(resp *crawler.FetchResponse) {
	if p == nil || resp == nil {
		return
	}
	u, err := url.Parse(resp.URL)
	if err != nil {
		return
	}
	p.mu.RLock()
	outcome, ok := p.byHost[strings.ToLower(u.Host)]
	p.mu.RUnlock()
	if !ok {
		return
	}
	resp.RobotsStatus = outcome.status
	resp.RobotsReason = outcome.reason
}

func (p *robotsProbes) roundTripWithRetry(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientError(err) {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			p.markIndeterminate(req.URL.Host, robotsFallbackReasonTimeout)
			return syntheticRobotsAllowAllResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, errors.New("robots roundtrip exhausted retries")
}

func (p *robotsProbes) markIndeterminate(host, reason string) {
	host = strings.ToLower(host)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, seen := p.byHost[host]; seen {
		return
	}
	p.byHost[host] = robotsOutcome{status: crawler.RobotsStatusIndeterminate, reason: reason}
	metrics.ObserveRobotsFallback(reason)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
