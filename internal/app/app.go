// Package app is the composition root: it builds every long-lived service from
// Config and exposes the page and site evaluation entry points used by the CLI
// and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/browser"
	"github.com/JakeFAU/site-evaluator/internal/cache"
	"github.com/JakeFAU/site-evaluator/internal/config"
	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/dispatcher"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/export"
	"github.com/JakeFAU/site-evaluator/internal/page"
	"github.com/JakeFAU/site-evaluator/internal/progress"
	"github.com/JakeFAU/site-evaluator/internal/queue"
	"github.com/JakeFAU/site-evaluator/internal/store"
)

// App holds the shared services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  evaluation.Clock
	ids    evaluation.IDGenerator

	cache     *cache.DiskCache
	launcher  browser.Launcher
	pool      *browser.Pool
	hub       *progress.Hub
	evaluator *page.Evaluator
	fetcher   crawler.Fetcher
	crawler   *crawler.Crawler
	exporter  *export.Exporter
	runs      store.RunRepository
	jobs      *dispatcher.Dispatcher
	checks    map[string]func(context.Context) error

	// closers run in reverse order on Close.
	closers []func(context.Context) error
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	launcher   browser.Launcher
	registerer prometheus.Registerer
	blobs      evaluation.BlobStore
	publisher  evaluation.Publisher
	reports    export.ReportStore
	runs       store.RunRepository
	sinks      []progress.Sink
	clock      evaluation.Clock
	ids        evaluation.IDGenerator
}

// WithLauncher replaces the chromedp launcher.
func WithLauncher(l browser.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithRegisterer registers the progress metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithBlobStore sets the report export target.
func WithBlobStore(b evaluation.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// WithPublisher sets the hand-off notice publisher.
func WithPublisher(p evaluation.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithReportStore sets where finished reports are persisted.
func WithReportStore(r export.ReportStore) Option {
	return func(o *options) { o.reports = r }
}

// WithRunRepository sets the run progress repository.
func WithRunRepository(r store.RunRepository) Option {
	return func(o *options) { o.runs = r }
}

// WithProgressSinks adds sinks to the progress hub.
func WithProgressSinks(sinks ...progress.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithClock replaces the system clock.
func WithClock(c evaluation.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(g evaluation.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Cache returns the result cache, or nil when caching is disabled.
func (a *App) Cache() *cache.DiskCache { return a.cache }

// Runs returns the run repository.
func (a *App) Runs() store.RunRepository { return a.runs }

// ReadinessChecks returns the named dependency probes for /readyz.
func (a *App) ReadinessChecks() map[string]func(context.Context) error { return a.checks }

// EvaluatePage evaluates a single URL under a fresh run id and hands the
// report off.
func (a *App) EvaluatePage(ctx context.Context, rawURL string) (evaluation.PageReport, error) {
	runID, err := a.ids.NewRawID()
	if err != nil {
		return evaluation.PageReport{}, fmt.Errorf("run id: %w", err)
	}
	return a.EvaluatePageRun(ctx, runID, rawURL)
}

// EvaluatePageRun evaluates a single URL under runID. With a browser pool the
// page is rendered; otherwise its HTML is fetched over HTTP.
func (a *App) EvaluatePageRun(ctx context.Context, runID uuid.UUID, rawURL string) (evaluation.PageReport, error) {
	u, err := evaluation.ValidateURL(rawURL)
	if err != nil {
		return evaluation.PageReport{}, err
	}
	target := page.Target{URL: u.String(), RunID: progress.UUIDToBytes(runID)}
	if a.pool == nil {
		html, fetchErr := a.fetchHTML(ctx, target.URL)
		if fetchErr != nil {
			a.emitPageError(target, fetchErr)
			return evaluation.PageReport{}, fetchErr
		}
		target.HTML = html
	}
	rep, err := a.evaluator.Evaluate(ctx, target)
	if err != nil {
		return evaluation.PageReport{}, err
	}
	a.exporter.Page(ctx, runID, rep)
	return rep, nil
}

// EvaluateSite crawls req.URL and hands the site report off.
func (a *App) EvaluateSite(ctx context.Context, req crawler.Request) (evaluation.SiteReport, error) {
	if req.RunID == uuid.Nil {
		runID, err := a.ids.NewRawID()
		if err != nil {
			return evaluation.SiteReport{}, fmt.Errorf("run id: %w", err)
		}
		req.RunID = runID
	}
	site, err := a.crawler.Crawl(ctx, req)
	if err != nil {
		return evaluation.SiteReport{}, err
	}
	a.exporter.Site(ctx, req.RunID, site)
	return site, nil
}

// Submit queues an evaluation for the background workers and returns its
// run id. The run is visible through the run repository as queued until a
// worker picks it up.
func (a *App) Submit(ctx context.Context, kind store.RunKind, req crawler.Request) (uuid.UUID, error) {
	if kind != store.KindPage && kind != store.KindSite {
		return uuid.Nil, &evaluation.ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %q", kind)}
	}
	u, err := evaluation.ValidateURL(req.URL)
	if err != nil {
		return uuid.Nil, err
	}
	if req.MaxDepth < 0 || req.MaxSubpages < 0 {
		return uuid.Nil, &evaluation.ValidationError{Field: "limits", Reason: "must be >= 0"}
	}
	runID, err := a.ids.NewRawID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("run id: %w", err)
	}
	now := a.clock.Now()
	if err := a.runs.QueueRun(ctx, runID, kind, u.String(), now); err != nil {
		return uuid.Nil, fmt.Errorf("record queued run: %w", err)
	}
	job := queue.Job{
		RunID:       runID,
		Kind:        kind,
		URL:         u.String(),
		MaxDepth:    req.MaxDepth,
		MaxSubpages: req.MaxSubpages,
		EnqueuedAt:  now,
	}
	if err := a.jobs.Enqueue(ctx, job); err != nil {
		msg := err.Error()
		if markErr := a.runs.CompleteRun(context.WithoutCancel(ctx), runID, kind, a.clock.Now(), store.RunError, nil, nil, &msg); markErr != nil {
			a.logger.Warn("mark rejected run failed", zap.String("run_id", runID.String()), zap.Error(markErr))
		}
		return uuid.Nil, err
	}
	a.logger.Info("job queued", zap.String("run_id", runID.String()), zap.String("kind", string(kind)), zap.String("url", job.URL))
	return runID, nil
}

// StartWorkers begins processing submitted jobs. Close drains them.
func (a *App) StartWorkers(ctx context.Context) {
	a.jobs.Start(context.WithoutCancel(ctx))
}

func (a *App) fetchHTML(ctx context.Context, target string) (string, error) {
	resp, err := a.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	return string(resp.Body), nil
}

func (a *App) emitPageError(t page.Target, err error) {
	if a.hub == nil {
		return
	}
	a.hub.Emit(progress.Event{
		RunID: t.RunID,
		TS:    a.clock.Now(),
		Type:  progress.TypePageError,
		URL:   t.URL,
		Note:  err.Error(),
	})
}

// Close releases everything Build opened, newest first. It flushes the
// progress hub before closing the stores its sinks write to.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		if err != nil {
			a.logger.Warn("close failed", zap.String("component", name), zap.Error(err))
			return fmt.Errorf("%s: %w", name, err)
		}
		a.logger.Debug("closed", zap.String("component", name), zap.Duration("took", time.Since(start)))
		return nil
	})
}
