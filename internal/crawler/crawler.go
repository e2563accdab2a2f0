package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/metrics"
	"github.com/JakeFAU/site-evaluator/internal/page"
	"github.com/JakeFAU/site-evaluator/internal/progress"
	"github.com/JakeFAU/site-evaluator/internal/report"
)

const defaultWorkers = 4

// PageEvaluator evaluates one fetched page.
type PageEvaluator interface {
	Evaluate(ctx context.Context, t page.Target) (evaluation.PageReport, error)
}

// Config controls crawl parallelism.
type Config struct {
	// Workers bounds how many pages of one level are processed at once.
	Workers int
}

// Request describes one site evaluation. MaxDepth bounds link expansion:
// pages at depth >= MaxDepth are evaluated but not expanded. MaxSubpages
// caps pages admitted beyond the seed; zero means unlimited. A zero RunID
// gets a fresh id.
type Request struct {
	URL         string
	MaxDepth    int
	MaxSubpages int
	RunID       uuid.UUID
}

// Crawler runs site evaluations.
type Crawler struct {
	cfg       Config
	fetcher   Fetcher
	evaluator PageEvaluator
	limiter   Limiter
	retry     RetryPolicy
	events    progress.Emitter
	clock     evaluation.Clock
	ids       evaluation.IDGenerator
	logger    *zap.Logger
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithLimiter paces fetches per host.
func WithLimiter(l Limiter) Option {
	return func(c *Crawler) { c.limiter = l }
}

// WithRetryPolicy retries transient fetch failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Crawler) { c.retry = p }
}

// WithEmitter reports progress events.
func WithEmitter(e progress.Emitter) Option {
	return func(c *Crawler) { c.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// New builds a Crawler.
func New(
	cfg Config,
	fetcher Fetcher,
	evaluator PageEvaluator,
	clock evaluation.Clock,
	ids evaluation.IDGenerator,
	opts ...Option,
) (*Crawler, error) {
	if fetcher == nil || evaluator == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("crawler requires fetcher, evaluator, clock and id generator: %w", evaluation.ErrInvalidConfig)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	c := &Crawler{
		cfg:       cfg,
		fetcher:   fetcher,
		evaluator: evaluator,
		clock:     clock,
		ids:       ids,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.events == nil {
		c.events = progress.Discard
	}
	if c.retry == nil {
		c.retry = NewExponentialRetryPolicy(0, 0)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("crawler")
	return c, nil
}

// crawlState is shared by the workers of one crawl; mu guards every field.
type crawlState struct {
	mu       sync.Mutex
	visited  map[string]struct{}
	admitted int
	limitHit bool
	pages    map[string]evaluation.PageReport
	names    map[string]int
	errored  int
}

// admit marks links visited and returns those accepted for the next level.
func (s *crawlState) admit(links []string, maxSubpages int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accepted []string
	for _, link := range links {
		if _, seen := s.visited[link]; seen {
			continue
		}
		if maxSubpages > 0 && s.admitted >= maxSubpages {
			s.limitHit = true
			break
		}
		s.visited[link] = struct{}{}
		s.admitted++
		accepted = append(accepted, link)
	}
	return accepted
}

// reserveName returns a unique page name, suffixing collisions with -2, -3...
func (s *crawlState) reserveName(base string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[base]++
	n := s.names[base]
	if n == 1 {
		return base
	}
	name := fmt.Sprintf("%s-%d", base, n)
	for {
		if _, taken := s.names[name]; !taken {
			s.names[name] = 1
			return name
		}
		n++
		name = fmt.Sprintf("%s-%d", base, n)
	}
}

func (s *crawlState) record(name string, rep evaluation.PageReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[name] = rep
	if rep.Errored() {
		s.errored++
	}
}

// crawlRun carries per-crawl identity for the helpers.
type crawlRun struct {
	id     [16]byte
	root   *url.URL
	site   string
	req    Request
	state  *crawlState
	logger *zap.Logger
}

// Crawl evaluates the site rooted at req.URL. The seed is always evaluated.
// Each level is fully processed before the next one starts, so pages are
// visited in strict depth order. Per-page failures are recorded as Error
// entries and never abort the crawl; only an invalid seed or a cancelled ctx
// returns an error.
func (c *Crawler) Crawl(ctx context.Context, req Request) (evaluation.SiteReport, error) {
	start := time.Now()
	root, err := evaluation.ValidateURL(req.URL)
	if err != nil {
		return evaluation.SiteReport{}, err
	}
	if req.MaxDepth < 0 {
		return evaluation.SiteReport{}, &evaluation.ValidationError{Field: "max_depth", Reason: "must be >= 0"}
	}
	if req.MaxSubpages < 0 {
		return evaluation.SiteReport{}, &evaluation.ValidationError{Field: "max_subpages", Reason: "must be >= 0"}
	}
	root = normalize(root)
	rawID := req.RunID
	if rawID == uuid.Nil {
		if rawID, err = c.ids.NewRawID(); err != nil {
			return evaluation.SiteReport{}, fmt.Errorf("run id: %w", err)
		}
	}

	r := &crawlRun{
		id:   progress.UUIDToBytes(rawID),
		root: root,
		site: metrics.SanitizeSite(root.String()),
		req:  req,
		state: &crawlState{
			visited: map[string]struct{}{root.String(): {}},
			pages:   make(map[string]evaluation.PageReport),
			names:   make(map[string]int),
		},
		logger: c.logger.With(zap.String("site", root.Host), zap.String("run_id", rawID.String())),
	}
	c.emit(r, progress.TypeCrawlStart, root.String(), 0, map[string]any{
		"max_depth":    req.MaxDepth,
		"max_subpages": req.MaxSubpages,
	}, "")
	r.logger.Info("crawl started", zap.Int("max_depth", req.MaxDepth), zap.Int("max_subpages", req.MaxSubpages))

	level := []string{root.String()}
	depth := 0
	maxDepthReached := 0
	for len(level) > 0 {
		if err := ctx.Err(); err != nil {
			c.emit(r, progress.TypeCrawlDone, root.String(), time.Since(start), nil, err.Error())
			return evaluation.SiteReport{}, fmt.Errorf("crawl %s: %w", root, err)
		}
		maxDepthReached = depth
		level = c.processLevel(ctx, r, level, depth)
		depth++
	}
	if err := ctx.Err(); err != nil {
		c.emit(r, progress.TypeCrawlDone, root.String(), time.Since(start), nil, err.Error())
		return evaluation.SiteReport{}, fmt.Errorf("crawl %s: %w", root, err)
	}

	site := c.buildReport(r, start, maxDepthReached)
	c.emit(r, progress.TypeCrawlDone, root.String(), time.Since(start), map[string]any{
		"rating":  site.WebsiteRating,
		"class":   string(site.WebsiteClass),
		"pages":   len(site.PageReports),
		"errored": site.PerformanceMetrics.PagesErrored,
	}, "")
	r.logger.Info("crawl finished",
		zap.Float64("rating", site.WebsiteRating),
		zap.String("class", string(site.WebsiteClass)),
		zap.Int("pages", len(site.PageReports)),
		zap.Bool("subpage_limit_hit", r.state.limitHit),
	)
	return site, nil
}

// processLevel visits every URL of one depth with bounded parallelism and
// returns the URLs admitted for the next depth. Wait is the level barrier.
func (c *Crawler) processLevel(ctx context.Context, r *crawlRun, level []string, depth int) []string {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		next []string
	)
	g.SetLimit(c.cfg.Workers)
	for _, target := range level {
		g.Go(func() error {
			links := c.visit(ctx, r, target, depth)
			if depth >= r.req.MaxDepth || len(links) == 0 {
				return nil
			}
			accepted := r.state.admit(links, r.req.MaxSubpages)
			mu.Lock()
			next = append(next, accepted...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return next
}

// visit fetches and evaluates one page and returns its same-origin links.
func (c *Crawler) visit(ctx context.Context, r *crawlRun, target string, depth int) []string {
	start := time.Now()
	u, err := url.Parse(target)
	if err != nil {
		c.recordError(r, target, "", depth, start, "invalid_url", err)
		return nil
	}
	name := r.state.reserveName(page.NameForURL(u))
	if ctx.Err() != nil {
		return nil
	}

	resp, err := c.fetch(ctx, target, depth)
	if err != nil {
		c.recordError(r, target, name, depth, start, "fetch_error", err)
		return nil
	}
	if resp.StatusCode >= 400 {
		c.recordError(r, target, name, depth, start, "http_error", fmt.Errorf("status %d", resp.StatusCode))
		return nil
	}
	if !isHTML(resp) {
		c.recordError(r, target, name, depth, start, "not_html", fmt.Errorf("content type %q", resp.Headers.Get("Content-Type")))
		return nil
	}

	var links []string
	if depth < r.req.MaxDepth {
		links = c.links(r, resp)
	}

	rep, err := c.evaluator.Evaluate(ctx, page.Target{
		URL:   target,
		Name:  name,
		HTML:  string(resp.Body),
		RunID: r.id,
	})
	if err != nil {
		c.recordError(r, target, name, depth, start, "eval_error", err)
		return links
	}
	r.state.record(name, rep)
	metrics.ObserveCrawlPage(r.site, "evaluated")
	c.emit(r, progress.TypeCrawlPage, target, time.Since(start), map[string]any{
		"depth":     depth,
		"page_name": name,
		"status":    resp.StatusCode,
		"rating":    rep.PageRating,
		"class":     string(rep.PageClass),
		"links":     len(links),
		"rendered":  resp.Rendered,
	}, "")
	return links
}

func (c *Crawler) fetch(ctx context.Context, target string, depth int) (FetchResponse, error) {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, target); err != nil {
				return FetchResponse{}, err
			}
		}
		resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: target, Depth: depth})
		if err == nil {
			return resp, nil
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return FetchResponse{}, err
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Debug("retrying fetch", zap.String("url", target), zap.Int("attempt", attempt+1), zap.Duration("backoff", wait), zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return FetchResponse{}, errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Crawler) links(r *crawlRun, resp FetchResponse) []string {
	base := r.root
	if resp.URL != "" {
		if final, err := url.Parse(resp.URL); err == nil {
			base = final
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		r.logger.Debug("link extraction failed", zap.String("url", resp.URL), zap.Error(err))
		return nil
	}
	return ExtractLinks(base, r.root, doc)
}

func (c *Crawler) recordError(r *crawlRun, target, name string, depth int, start time.Time, status string, err error) {
	if name == "" {
		name = r.state.reserveName(target)
	}
	r.state.record(name, evaluation.PageReport{
		URL:        target,
		PageName:   name,
		PageRating: 0,
		PageClass:  evaluation.ClassError,
		Results:    map[string]evaluation.AnalysisResult{},
		PerformanceMetrics: evaluation.PagePerformance{
			TotalMS: float64(time.Since(start).Microseconds()) / 1000,
			GroupMS: map[string]float64{},
		},
		Error: err.Error(),
	})
	metrics.ObserveCrawlPage(r.site, status)
	c.emit(r, progress.TypeCrawlPage, target, time.Since(start), map[string]any{
		"depth":     depth,
		"page_name": name,
		"status":    status,
		"class":     string(evaluation.ClassError),
	}, err.Error())
	r.logger.Warn("page failed", zap.String("url", target), zap.String("status", status), zap.Error(err))
}

func (c *Crawler) buildReport(r *crawlRun, start time.Time, maxDepth int) evaluation.SiteReport {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	pages := make(map[string]evaluation.PageReport, len(r.state.pages))
	for name, rep := range r.state.pages {
		pages[name] = rep
	}
	rating := report.SiteRating(pages)
	class := report.Classify(rating)
	evaluated := len(pages) - r.state.errored
	if evaluated == 0 {
		class = evaluation.ClassError
	}
	return evaluation.SiteReport{
		WebsiteURL:    r.root.String(),
		WebsiteRating: rating,
		WebsiteClass:  class,
		PageReports:   pages,
		PerformanceMetrics: evaluation.SitePerformance{
			CrawlMS:         float64(time.Since(start).Microseconds()) / 1000,
			PagesDiscovered: len(r.state.visited),
			PagesEvaluated:  evaluated,
			PagesErrored:    r.state.errored,
			MaxDepthReached: maxDepth,
		},
	}
}

func (c *Crawler) emit(r *crawlRun, typ progress.Type, target string, dur time.Duration, payload map[string]any, note string) {
	c.events.Emit(progress.Event{
		RunID:   r.id,
		TS:      c.clock.Now(),
		Type:    typ,
		URL:     target,
		Payload: payload,
		Dur:     dur,
		Note:    note,
	})
}

func isHTML(resp FetchResponse) bool {
	return IsHTMLContentType(resp.Headers.Get("Content-Type"))
}

// IsHTMLContentType accepts a missing content type and any HTML flavour.
// Fetchers use it to decide which bodies are worth downloading.
func IsHTMLContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
