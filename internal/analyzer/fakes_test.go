package analyzer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-evaluator/internal/browser"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type domFunc func(ctx context.Context, url string, doc *goquery.Document) (any, error)

type fakeDOM struct {
	id, version string
	calls       atomic.Int32
	fn          domFunc
}

func (f *fakeDOM) ID() string      { return f.id }
func (f *fakeDOM) Version() string { return f.version }

func (f *fakeDOM) AnalyzeDOM(ctx context.Context, url string, doc *goquery.Document) (any, error) {
	f.calls.Add(1)
	return f.fn(ctx, url, doc)
}

type fakeStatic struct {
	id      string
	gotHTML string
}

func (f *fakeStatic) ID() string      { return f.id }
func (f *fakeStatic) Version() string { return "1" }

func (f *fakeStatic) AnalyzeContent(_ context.Context, _ string, html string, doc *goquery.Document) (any, error) {
	f.gotHTML = html
	return map[string]any{"score": 55, "title": doc.Find("title").Text()}, nil
}

type fakeLive struct {
	id string
}

func (f *fakeLive) ID() string      { return f.id }
func (f *fakeLive) Version() string { return "1" }

func (f *fakeLive) AnalyzeLive(_ context.Context, _ string, page browser.Page, _ *goquery.Document) (any, error) {
	return map[string]any{"score": 77, "status": page.Response().Status}, nil
}

// fakeBoth implements two conventions and must be rejected.
type fakeBoth struct{ fakeStatic }

func (f *fakeBoth) AnalyzeDOM(context.Context, string, *goquery.Document) (any, error) {
	return nil, nil
}

type bareAnalyzer struct{ id string }

func (b bareAnalyzer) ID() string      { return b.id }
func (b bareAnalyzer) Version() string { return "1" }

type stubPage struct{}

func (stubPage) Goto(_ context.Context, url string) (browser.Response, error) {
	return browser.Response{URL: url, Status: 200}, nil
}
func (stubPage) Content(context.Context) (string, error) { return "<html></html>", nil }
func (stubPage) Response() browser.Response              { return browser.Response{Status: 203} }
func (stubPage) Close() error                            { return nil }

func scoreOf(score float64) domFunc {
	return func(context.Context, string, *goquery.Document) (any, error) {
		return map[string]any{"score": score}, nil
	}
}

const samplePage = `<html><head><title>Sample</title></head><body><p>hello</p></body></html>`
