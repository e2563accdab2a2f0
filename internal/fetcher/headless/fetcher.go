// Package headless renders pages in browser tabs leased from the shared pool.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/site-evaluator/internal/browser"
	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// Pool leases browser tabs.
type Pool interface {
	Acquire(ctx context.Context) (*browser.Handle, error)
	Release(h *browser.Handle)
	Discard(h *browser.Handle)
}

// Config controls the headless fetcher.
type Config struct {
	NavigationTimeout time.Duration
	// AcquireRetries is how many extra attempts are made when the pool is
	// exhausted.
	AcquireRetries int
}

// Fetcher implements crawler.Fetcher by navigating a pooled tab and returning
// the rendered DOM.
type Fetcher struct {
	cfg  Config
	pool Pool
}

// New creates a pool-backed fetcher.
func New(cfg Config, pool Pool) (*Fetcher, error) {
	if pool == nil {
		return nil, fmt.Errorf("headless fetcher requires a browser pool: %w", evaluation.ErrInvalidConfig)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.AcquireRetries < 0 {
		cfg.AcquireRetries = 0
	}
	return &Fetcher{cfg: cfg, pool: pool}, nil
}

// Fetch navigates a leased tab to request.URL and returns the rendered HTML.
// A tab whose content cannot be read is discarded rather than reused.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	handle, err := f.acquire(ctx)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("acquire browser page: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	page := handle.Page()
	resp, err := page.Goto(ctx, request.URL)
	if err != nil {
		f.pool.Release(handle)
		return crawler.FetchResponse{}, fmt.Errorf("navigate %s: %w", request.URL, err)
	}
	html, err := page.Content(ctx)
	if err != nil {
		f.pool.Discard(handle)
		return crawler.FetchResponse{}, fmt.Errorf("read rendered content: %w", err)
	}
	f.pool.Release(handle)

	headers := resp.Headers
	if headers == nil {
		headers = http.Header{}
	}
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = request.URL
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	return crawler.FetchResponse{
		URL:        finalURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Rendered:   true,
	}, nil
}

func (f *Fetcher) acquire(ctx context.Context) (*browser.Handle, error) {
	var err error
	for attempt := 0; attempt <= f.cfg.AcquireRetries; attempt++ {
		var h *browser.Handle
		h, err = f.pool.Acquire(ctx)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, evaluation.ErrResourceExhausted) {
			return nil, err
		}
	}
	return nil, err
}
