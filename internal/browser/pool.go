package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/metrics"
)

// State is the lifecycle position of a page handle.
type State int

// Handle states: Idle → Leased → (Idle | Closed).
const (
	StateIdle State = iota
	StateLeased
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLeased:
		return "leased"
	default:
		return "closed"
	}
}

// Config bounds the pool.
type Config struct {
	MaxBrowsers     int
	PagesPerBrowser int
	// AcquireTimeout caps how long Acquire waits for a free handle; zero waits
	// until the context ends.
	AcquireTimeout time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Browsers int
	Pages    int
	Idle     int
	Leased   int
}

// Handle is a leased page. It belongs to exactly one holder between Acquire
// and Release.
type Handle struct {
	pool  *Pool
	proc  *process
	page  Page
	state State
}

// Page returns the underlying page. It must not be used after Release.
func (h *Handle) Page() Page {
	return h.page
}

// State reports the handle's current lifecycle state.
func (h *Handle) State() State {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()
	return h.state
}

// process tracks one browser. pages counts open and reserved tabs.
type process struct {
	browser Browser
	pages   int
	leased  int
}

// Pool leases page handles from at most MaxBrowsers × PagesPerBrowser tabs.
// All state changes happen under mu; browser and page I/O happens outside it.
type Pool struct {
	cfg      Config
	launcher Launcher
	logger   *zap.Logger

	mu        sync.Mutex
	procs     []*process
	idle      []*Handle
	launching int
	closed    bool
	changed   chan struct{}
}

// NewPool builds an empty pool; browsers launch lazily on first Acquire.
func NewPool(cfg Config, launcher Launcher, logger *zap.Logger) (*Pool, error) {
	if launcher == nil {
		return nil, fmt.Errorf("browser launcher is required")
	}
	if cfg.MaxBrowsers <= 0 {
		return nil, fmt.Errorf("max browsers must be > 0")
	}
	if cfg.PagesPerBrowser <= 0 {
		return nil, fmt.Errorf("pages per browser must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.Named("browser_pool"),
		changed:  make(chan struct{}),
	}, nil
}

// Acquire leases an idle handle, opens a tab on a browser with room, or
// launches a new browser under the ceiling. Otherwise it waits until a handle
// is released, the acquire timeout passes (ErrResourceExhausted) or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	start := time.Now()
	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		timer := time.NewTimer(p.cfg.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			metrics.ObserveAcquireFailure("closed")
			return nil, evaluation.ErrPoolClosed
		}
		if h := p.popIdleLocked(); h != nil {
			h.state = StateLeased
			h.proc.leased++
			p.publishLocked()
			p.mu.Unlock()
			metrics.ObserveAcquireWait(time.Since(start))
			return h, nil
		}
		if proc := p.processWithRoomLocked(); proc != nil {
			proc.pages++
			proc.leased++
			p.mu.Unlock()
			return p.openPage(ctx, proc, start)
		}
		if len(p.procs)+p.launching < p.cfg.MaxBrowsers {
			p.launching++
			p.mu.Unlock()
			return p.launchAndOpen(ctx, start)
		}
		changed := p.changed
		p.mu.Unlock()

		select {
		case <-changed:
		case <-timeout:
			metrics.ObserveAcquireFailure("exhausted")
			return nil, fmt.Errorf("no page handle freed within %s: %w", p.cfg.AcquireTimeout, evaluation.ErrResourceExhausted)
		case <-ctx.Done():
			metrics.ObserveAcquireFailure("canceled")
			return nil, fmt.Errorf("acquire page handle: %w", ctx.Err())
		}
	}
}

func (p *Pool) launchAndOpen(ctx context.Context, start time.Time) (*Handle, error) {
	b, err := p.launcher.Launch(ctx)

	p.mu.Lock()
	p.launching--
	if err != nil {
		p.notifyLocked()
		p.mu.Unlock()
		metrics.ObserveAcquireFailure("launch")
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	if p.closed {
		p.mu.Unlock()
		p.closeQuietly(nil, b)
		return nil, evaluation.ErrPoolClosed
	}
	proc := &process{browser: b, pages: 1, leased: 1}
	p.procs = append(p.procs, proc)
	p.mu.Unlock()

	p.logger.Debug("browser launched")
	return p.openPage(ctx, proc, start)
}

// openPage opens a tab on proc, whose slot the caller already reserved.
func (p *Pool) openPage(ctx context.Context, proc *process, start time.Time) (*Handle, error) {
	page, err := proc.browser.NewPage(ctx)

	p.mu.Lock()
	if err == nil && !p.closed {
		h := &Handle{pool: p, proc: proc, page: page, state: StateLeased}
		p.publishLocked()
		p.mu.Unlock()
		metrics.ObserveAcquireWait(time.Since(start))
		return h, nil
	}
	proc.pages--
	proc.leased--
	var retired Browser
	if !p.closed && proc.pages == 0 {
		retired = p.retireLocked(proc, nil)
	}
	p.notifyLocked()
	p.publishLocked()
	p.mu.Unlock()

	if err != nil {
		p.closeQuietly(nil, retired)
		metrics.ObserveAcquireFailure("new_page")
		return nil, fmt.Errorf("open page: %w", err)
	}
	p.closeQuietly([]Page{page}, retired)
	return nil, evaluation.ErrPoolClosed
}

// Release returns h to Idle. It is idempotent and never fails the caller. When
// h's browser has no leased pages left and more than one browser is running,
// that browser is torn down.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if h.state != StateLeased {
		p.mu.Unlock()
		return
	}
	h.proc.leased--

	var (
		pages   []Page
		browser Browser
	)
	switch {
	case p.closed:
		h.state = StateClosed
		h.proc.pages--
		pages = []Page{h.page}
	default:
		h.state = StateIdle
		p.idle = append(p.idle, h)
		if h.proc.leased == 0 && len(p.procs) > 1 {
			browser = p.retireLocked(h.proc, &pages)
		}
	}
	p.notifyLocked()
	p.publishLocked()
	p.mu.Unlock()

	p.closeQuietly(pages, browser)
}

// Discard closes h instead of returning it, for pages left in a bad state.
func (p *Pool) Discard(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if h.state != StateLeased {
		p.mu.Unlock()
		return
	}
	h.state = StateClosed
	h.proc.leased--
	h.proc.pages--
	pages := []Page{h.page}
	var browser Browser
	if !p.closed && h.proc.leased == 0 && (h.proc.pages == 0 || len(p.procs) > 1) {
		browser = p.retireLocked(h.proc, &pages)
	}
	p.notifyLocked()
	p.publishLocked()
	p.mu.Unlock()

	p.closeQuietly(pages, browser)
}

// CloseAll closes every idle page and every browser, and fails subsequent
// Acquire calls with ErrPoolClosed. Handles still leased are closed when
// released.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pages := make([]Page, 0, len(p.idle))
	for _, h := range p.idle {
		h.state = StateClosed
		h.proc.pages--
		pages = append(pages, h.page)
	}
	p.idle = nil
	procs := p.procs
	p.procs = nil
	p.notifyLocked()
	p.publishLocked()
	p.mu.Unlock()

	var errs []error
	for _, page := range pages {
		if err := page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	for _, proc := range procs {
		if err := proc.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns the pool's current shape.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// IdleCount returns how many handles are idle.
func (p *Pool) IdleCount() int {
	return p.Stats().Idle
}

func (p *Pool) statsLocked() Stats {
	stats := Stats{Browsers: len(p.procs), Idle: len(p.idle)}
	for _, proc := range p.procs {
		stats.Pages += proc.pages
		stats.Leased += proc.leased
	}
	return stats
}

func (p *Pool) popIdleLocked() *Handle {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	h := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return h
}

func (p *Pool) processWithRoomLocked() *process {
	for _, proc := range p.procs {
		if proc.pages < p.cfg.PagesPerBrowser {
			return proc
		}
	}
	return nil
}

// retireLocked removes proc and its idle handles from the pool, appending the
// idle pages to pages (when non-nil), and returns the browser to close.
func (p *Pool) retireLocked(proc *process, pages *[]Page) Browser {
	kept := p.procs[:0]
	for _, candidate := range p.procs {
		if candidate != proc {
			kept = append(kept, candidate)
		}
	}
	p.procs = kept

	idle := p.idle[:0]
	for _, h := range p.idle {
		if h.proc != proc {
			idle = append(idle, h)
			continue
		}
		h.state = StateClosed
		proc.pages--
		if pages != nil {
			*pages = append(*pages, h.page)
		}
	}
	p.idle = idle
	return proc.browser
}

func (p *Pool) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Pool) publishLocked() {
	stats := p.statsLocked()
	metrics.SetBrowserPool(stats.Browsers, stats.Leased, stats.Idle)
}

// closeQuietly closes pages and the browser, logging failures.
func (p *Pool) closeQuietly(pages []Page, browser Browser) {
	for _, page := range pages {
		if page == nil {
			continue
		}
		if err := page.Close(); err != nil {
			p.logger.Warn("page close failed", zap.Error(err))
		}
	}
	if browser == nil {
		return
	}
	if err := browser.Close(); err != nil {
		p.logger.Warn("browser teardown failed", zap.Error(err))
		return
	}
	p.logger.Debug("browser torn down")
}
