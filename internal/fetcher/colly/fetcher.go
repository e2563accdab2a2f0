// Package collyfetcher implements crawler.Fetcher with a gocolly collector.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodyBytes caps the body read per page; zero keeps colly's default.
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher. Each Fetch runs on a clone of the base
// collector so concurrent fetches do not share callbacks; the clones share the
// base collector's HTTP client.
type Fetcher struct {
	cfg           Config
	robots        *robotsProbes
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the collector callbacks observed for one visit.
type fetchState struct {
	result crawler.FetchResponse
	err    error
	// skipped is set when the body was not downloaded because the response
	// is not a document the analyzers can read.
	skipped bool
}

// New builds a Fetcher sharing one pooled transport.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}

	f := &Fetcher{cfg: cfg, baseCollector: c}
	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		f.robots = newRobotsProbes()
		transport = &robotsAwareTransport{base: transport, probes: f.robots}
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	return f
}

// Fetch performs one GET. Error statuses are returned as responses, not
// errors, so the crawler can record them against the page. Responses that are
// not HTML come back with status and headers only.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	state := &fetchState{}
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, time.Now(), state)

	if err := runCollector(ctx, collector, request.URL, state); err != nil {
		return crawler.FetchResponse{}, err
	}
	if state.result.StatusCode == 0 {
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch %s: no response received", request.URL)
	}
	f.robots.apply(&state.result)
	return state.result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	state *fetchState,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
		if r.Headers.Get("Accept") == "" {
			r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
		}
	})

	hooks.OnResponseHeaders(func(r *colly.Response) {
		if r.Headers == nil || crawler.IsHTMLContentType(r.Headers.Get("Content-Type")) {
			return
		}
		state.result = responseFrom(r, start)
		state.skipped = true
		r.Request.Abort()
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.result = responseFrom(r, start)
		state.result.Body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		state.err = err
	})
}

func responseFrom(r *colly.Response, start time.Time) crawler.FetchResponse {
	var headers http.Header
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	return crawler.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Duration:   time.Since(start),
	}
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if state.skipped {
			return nil
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		return nil
	}
}

func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
