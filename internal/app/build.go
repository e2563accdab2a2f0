package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/analyzer"
	"github.com/JakeFAU/site-evaluator/internal/analyzers"
	"github.com/JakeFAU/site-evaluator/internal/browser"
	"github.com/JakeFAU/site-evaluator/internal/cache"
	"github.com/JakeFAU/site-evaluator/internal/clock/system"
	"github.com/JakeFAU/site-evaluator/internal/config"
	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/dispatcher"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/export"
	collyfetcher "github.com/JakeFAU/site-evaluator/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/site-evaluator/internal/fetcher/headless"
	"github.com/JakeFAU/site-evaluator/internal/hash/sha256"
	"github.com/JakeFAU/site-evaluator/internal/headless/detector"
	"github.com/JakeFAU/site-evaluator/internal/id/uuid"
	"github.com/JakeFAU/site-evaluator/internal/metrics"
	"github.com/JakeFAU/site-evaluator/internal/page"
	"github.com/JakeFAU/site-evaluator/internal/policy/ratelimit"
	"github.com/JakeFAU/site-evaluator/internal/progress"
	progresssinks "github.com/JakeFAU/site-evaluator/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/site-evaluator/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/site-evaluator/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/site-evaluator/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-evaluator/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-evaluator/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-evaluator/internal/storage/postgres"
	"github.com/JakeFAU/site-evaluator/internal/worker"
)

// Build creates the application's services from cfg. The caller owns the
// returned App and must Close it.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.ids == nil {
		o.ids = uuid.New()
	}
	if o.registerer == nil {
		o.registerer = prometheus.DefaultRegisterer
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  o.clock,
		ids:    o.ids,
		runs:   o.runs,
		checks: make(map[string]func(context.Context) error),
	}
	a.logger.Info("building application",
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("browser", cfg.Browser.Enabled),
		zap.Int("server_port", cfg.Server.Port),
	)

	steps := []func(context.Context, *options) error{
		a.setupCache,
		a.setupBrowser,
		a.setupDatabase,
		a.setupProgress,
		a.setupEvaluator,
		a.setupCrawler,
		a.setupExport,
		a.setupJobs,
	}
	for _, step := range steps {
		if err := step(ctx, &o); err != nil {
			if closeErr := a.Close(ctx); closeErr != nil {
				a.logger.Warn("cleanup after failed build", zap.Error(closeErr))
			}
			return nil, err
		}
	}
	a.logger.Info("application built")
	return a, nil
}

func (a *App) setupCache(_ context.Context, _ *options) error {
	if !a.cfg.Cache.Enabled {
		a.logger.Info("result cache disabled")
		return nil
	}
	c, err := cache.New(cache.Config{Dir: a.cfg.Cache.Dir, TTL: a.cfg.Cache.TTL}, sha256.New(), a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("cache init failed: %w", err)
	}
	a.cache = c
	a.logger.Info("result cache enabled", zap.String("dir", a.cfg.Cache.Dir), zap.Duration("ttl", a.cfg.Cache.TTL))
	return nil
}

func (a *App) setupBrowser(_ context.Context, o *options) error {
	if !a.cfg.Browser.Enabled {
		a.logger.Info("browser pool disabled; live-page groups are skipped")
		return nil
	}
	launcher := o.launcher
	if launcher == nil {
		cl := browser.NewChromedpLauncher(browser.ChromedpConfig{
			UserAgent:         a.cfg.Browser.UserAgent,
			NavigationTimeout: a.cfg.Browser.NavigationTimeout,
			Headless:          a.cfg.Browser.Headless,
		})
		a.onClose("chromedp", func(context.Context) error {
			cl.Close()
			return nil
		})
		launcher = cl
	}
	pool, err := browser.NewPool(browser.Config{
		MaxBrowsers:     a.cfg.Browser.MaxBrowsers,
		PagesPerBrowser: a.cfg.Browser.PagesPerBrowser,
		AcquireTimeout:  a.cfg.Browser.AcquireTimeout,
	}, launcher, a.logger)
	if err != nil {
		return fmt.Errorf("browser pool init failed: %w", err)
	}
	a.launcher = launcher
	a.pool = pool
	a.onClose("browser pool", func(context.Context) error { return pool.CloseAll() })
	a.logger.Info("browser pool ready",
		zap.Int("max_browsers", a.cfg.Browser.MaxBrowsers),
		zap.Int("pages_per_browser", a.cfg.Browser.PagesPerBrowser),
	)
	return nil
}

func (a *App) setupDatabase(ctx context.Context, o *options) error {
	if a.cfg.Storage.PostgresDSN == "" {
		if o.runs == nil {
			a.logger.Warn("no postgres_dsn configured; run progress is kept in memory and reports are not persisted")
			a.runs = memorystorage.NewRunStore()
		}
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{DSN: a.cfg.Storage.PostgresDSN})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	a.checks["postgres"] = pool.Ping

	if o.runs == nil {
		runs, err := pgstore.NewRunStore(pool, a.cfg.Storage.RunsTable)
		if err != nil {
			return fmt.Errorf("run store init failed: %w", err)
		}
		o.runs = runs
		a.runs = runs
	}
	if o.reports == nil {
		reports, err := pgstore.NewReportStore(pool, a.cfg.Storage.ReportsTable)
		if err != nil {
			return fmt.Errorf("report store init failed: %w", err)
		}
		o.reports = reports
	}
	a.logger.Info("postgres stores initialized",
		zap.String("runs_table", a.cfg.Storage.RunsTable),
		zap.String("reports_table", a.cfg.Storage.ReportsTable),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context, o *options) error {
	promSink, err := progresssinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink, progresssinks.NewStoreSink(a.runs, a.logger)}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger))
	}
	sinkList = append(sinkList, o.sinks...)

	a.hub = progress.NewHub(progress.Config{
		BufferSize:  a.cfg.Progress.BufferSize,
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	a.onClose("progress hub", func(ctx context.Context) error {
		err := a.hub.Close(ctx)
		if dropped := a.hub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped during run", zap.Int64("dropped", dropped))
		}
		return err
	})
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", a.cfg.Progress.BufferSize),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func (a *App) setupEvaluator(_ context.Context, _ *options) error {
	registry, err := analyzer.NewRegistry(analyzers.All()...)
	if err != nil {
		return fmt.Errorf("analyzer registry: %w", err)
	}
	groups := a.cfg.Evaluator.Groups
	if len(groups) == 0 {
		groups = analyzers.DefaultGroups()
	}
	if a.pool == nil {
		groups = staticGroups(groups, a.logger)
	}
	plan, err := registry.Plan(groups)
	if err != nil {
		return fmt.Errorf("analyzer plan: %w", err)
	}

	var resultCache analyzer.ResultCache
	if a.cache != nil {
		resultCache = a.cache
	}
	invoker := analyzer.NewInvoker(analyzer.Config{Timeout: a.cfg.Evaluator.AnalyzerTimeout}, resultCache, a.clock, a.logger)

	var pool page.Pool
	if a.pool != nil {
		pool = a.pool
	}
	a.evaluator, err = page.NewEvaluator(
		page.Config{AcquireRetries: a.cfg.Evaluator.AcquireRetries},
		plan,
		invoker,
		pool,
		a.hub,
		a.clock,
		a.ids,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("page evaluator: %w", err)
	}
	names := make([]string, 0, len(plan.Groups()))
	for _, g := range plan.Groups() {
		names = append(names, g.Group.Name)
	}
	a.logger.Info("page evaluator ready", zap.Strings("groups", names), zap.Strings("analyzers", registry.IDs()))
	return nil
}

// staticGroups drops groups that need a live page.
func staticGroups(groups []evaluation.AnalyzerGroup, logger *zap.Logger) []evaluation.AnalyzerGroup {
	out := make([]evaluation.AnalyzerGroup, 0, len(groups))
	for _, g := range groups {
		if g.RequiresLivePage {
			logger.Warn("skipping live-page analyzer group", zap.String("group", g.Name))
			continue
		}
		out = append(out, g)
	}
	return out
}

func (a *App) setupCrawler(_ context.Context, _ *options) error {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.Crawler.RequestTimeout,
		MaxBodyBytes:  a.cfg.Crawler.MaxBodyBytes,
	})
	var fetcher crawler.Fetcher = probe
	if a.cfg.Crawler.Render && a.pool != nil {
		renderer, err := headlessfetcher.New(headlessfetcher.Config{
			NavigationTimeout: a.cfg.Browser.NavigationTimeout,
			AcquireRetries:    a.cfg.Evaluator.AcquireRetries,
		}, a.pool)
		if err != nil {
			return fmt.Errorf("headless fetcher: %w", err)
		}
		fetcher = crawler.NewHybridFetcher(probe, renderer, detector.NewHeuristic(a.cfg.Crawler.PromoteMinChars), a.logger)
		a.logger.Info("hybrid fetcher enabled", zap.Int("promote_min_chars", a.cfg.Crawler.PromoteMinChars))
	}
	a.fetcher = fetcher

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.Crawler.RequestsPerSecond, DefaultBurst: 1})
	c, err := crawler.New(
		crawler.Config{Workers: a.cfg.Crawler.Workers},
		fetcher,
		a.evaluator,
		a.clock,
		a.ids,
		crawler.WithLimiter(limiter),
		crawler.WithRetryPolicy(crawler.NewExponentialRetryPolicy(a.cfg.Crawler.MaxRetries, a.cfg.Crawler.RetryBackoff)),
		crawler.WithEmitter(a.hub),
		crawler.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	a.crawler = c
	a.logger.Info("crawler ready",
		zap.Int("workers", a.cfg.Crawler.Workers),
		zap.Float64("requests_per_second", a.cfg.Crawler.RequestsPerSecond),
		zap.Bool("respect_robots", a.cfg.Crawler.RespectRobots),
	)
	return nil
}

func (a *App) setupExport(ctx context.Context, o *options) error {
	blobs := o.blobs
	if blobs == nil {
		var err error
		if blobs, err = a.blobStore(ctx); err != nil {
			return err
		}
	}
	publisher := o.publisher
	if publisher == nil && a.cfg.PubSub.Topic != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		p, err := gcppublisher.New(client, a.cfg.PubSub.Topic,
			gcppublisher.WithAttributes(map[string]string{"source": "site-evaluator"}))
		if err != nil {
			return fmt.Errorf("pubsub publisher: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return p.Close() })
		publisher = p
		a.logger.Info("pubsub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}
	topic := a.cfg.PubSub.Topic
	if topic == "" && o.publisher != nil {
		topic = "evaluations"
	}
	exp, err := export.New(
		export.Config{Prefix: a.cfg.Storage.ExportPrefix, Topic: topic},
		blobs,
		o.reports,
		publisher,
		sha256.New(),
		a.clock,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("exporter: %w", err)
	}
	a.exporter = exp
	return nil
}

func (a *App) blobStore(ctx context.Context) (evaluation.BlobStore, error) {
	switch {
	case a.cfg.Storage.GCSBucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: ""})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("exporting reports to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case a.cfg.Storage.ExportDir != "":
		store, err := localstorage.New(a.cfg.Storage.ExportDir)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("exporting reports to disk", zap.String("dir", store.Dir()))
		return store, nil
	default:
		a.logger.Debug("no report export target configured")
		return nil, nil
	}
}

// setupJobs runs last so its closer drains the queue before anything the
// workers depend on is closed.
func (a *App) setupJobs(_ context.Context, _ *options) error {
	q := queuememory.NewQueue(a.cfg.Jobs.QueueDepth)
	workers := make([]*worker.Worker, a.cfg.Jobs.Workers)
	for i := range workers {
		workers[i] = worker.New(q, a, a.runs, a.clock, worker.Config{JobTimeout: a.cfg.Jobs.Timeout},
			a.logger.Named("worker").With(zap.Int("index", i)))
	}
	a.jobs = dispatcher.New(q, workers, a.logger.Named("dispatcher"))
	a.onClose("job workers", a.jobs.Shutdown)
	a.logger.Info("job queue ready",
		zap.Int("workers", a.cfg.Jobs.Workers),
		zap.Int("queue_depth", a.cfg.Jobs.QueueDepth),
	)
	return nil
}
