package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	settleDelay              = 500 * time.Millisecond
)

// ChromedpConfig controls how browsers are started and pages navigated.
type ChromedpConfig struct {
	UserAgent         string
	NavigationTimeout time.Duration
	Headless          bool
	ExtraFlags        map[string]any
}

// ChromedpLauncher starts Chrome processes through chromedp. Every Launch
// produces a separate browser process from the shared allocator.
type ChromedpLauncher struct {
	cfg         ChromedpConfig
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedpLauncher prepares the exec allocator; no process starts until Launch.
func NewChromedpLauncher(cfg ChromedpConfig) *ChromedpLauncher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	for name, value := range cfg.ExtraFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromedpLauncher{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close cancels the allocator context, killing any browser still running.
func (l *ChromedpLauncher) Close() {
	l.allocCancel()
}

// Launch starts a new browser process.
func (l *ChromedpLauncher) Launch(ctx context.Context) (Browser, error) {
	browserCtx, cancel := chromedp.NewContext(l.allocator)
	if err := runWithCaller(ctx, browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &chromedpBrowser{cfg: l.cfg, ctx: browserCtx, cancel: cancel}, nil
}

type chromedpBrowser struct {
	cfg    ChromedpConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPage opens a tab in this browser.
func (b *chromedpBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)
	if err := runWithCaller(ctx, tabCtx, b.networkSetupAction()); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromedpPage{cfg: b.cfg, ctx: tabCtx, cancel: cancel, meta: meta}, nil
}

// Close shuts the browser process down.
func (b *chromedpBrowser) Close() error {
	defer b.cancel()
	if err := chromedp.Cancel(b.ctx); err != nil {
		return fmt.Errorf("cancel browser: %w", err)
	}
	return nil
}

func (b *chromedpBrowser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type chromedpPage struct {
	cfg    ChromedpConfig
	ctx    context.Context
	cancel context.CancelFunc
	meta   *responseMeta
}

// Goto navigates the tab and reports the main document response.
func (p *chromedpPage) Goto(ctx context.Context, url string) (Response, error) {
	p.meta.reset()
	navCtx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()

	var finalURL string
	err := runWithCaller(ctx, navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return Response{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	status, headers, responseURL := p.meta.snapshotWithFallbacks(url, finalURL)
	return Response{URL: responseURL, Status: status, Headers: headers}, nil
}

// Content returns the rendered outer HTML of the document.
func (p *chromedpPage) Content(ctx context.Context) (string, error) {
	var html string
	if err := runWithCaller(ctx, p.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return html, nil
}

// Response returns the last captured main document response.
func (p *chromedpPage) Response() Response {
	status, headers, url := p.meta.snapshot()
	return Response{URL: url, Status: status, Headers: headers}
}

// Close closes the tab.
func (p *chromedpPage) Close() error {
	defer p.cancel()
	if err := chromedp.Cancel(p.ctx); err != nil {
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

// runWithCaller runs actions on the chromedp context while honoring the
// caller's cancellation; chromedp contexts cannot take a foreign parent.
func runWithCaller(caller, target context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(target, actions...)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("chromedp run: %w", err)
		}
		return nil
	case <-caller.Done():
		return fmt.Errorf("chromedp run canceled: %w", caller.Err())
	}
}

// responseMeta records the main document response seen by a tab.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.headers = http.Header{}
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := fromNetworkHeaders(resp.Response.Headers)
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func fromNetworkHeaders(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}
