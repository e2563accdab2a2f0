// Package worker executes queued evaluation jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/queue"
	"github.com/JakeFAU/site-evaluator/internal/store"
)

// Service runs the evaluations behind a job.
type Service interface {
	EvaluatePageRun(ctx context.Context, runID uuid.UUID, rawURL string) (evaluation.PageReport, error)
	EvaluateSite(ctx context.Context, req crawler.Request) (evaluation.SiteReport, error)
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds one evaluation; zero means no limit.
	JobTimeout time.Duration
}

// Worker consumes queued jobs one at a time.
type Worker struct {
	queue   queue.Queue
	service Service
	runs    store.RunRepository
	clock   evaluation.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker. runs may be nil.
func New(
	q queue.Queue,
	service Service,
	runs store.RunRepository,
	clock evaluation.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   q,
		service: service,
		runs:    runs,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming jobs until the queue is closed and drained or ctx
// finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("run_id", job.RunID.String()),
			zap.String("kind", string(job.Kind)),
			zap.Duration("waited", w.clock.Now().Sub(job.EnqueuedAt)),
		)
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job queue.Job) {
	log := w.logger.With(zap.String("run_id", job.RunID.String()), zap.String("url", job.URL))
	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.execute(jobCtx, job)
	if err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		w.failRun(ctx, job, err)
		return
	}
	log.Info("job finished", zap.String("kind", string(job.Kind)), zap.Duration("took", time.Since(start)))
}

func (w *Worker) execute(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case store.KindPage:
		if _, err := w.service.EvaluatePageRun(ctx, job.RunID, job.URL); err != nil {
			return fmt.Errorf("evaluate page: %w", err)
		}
	case store.KindSite:
		req := crawler.Request{
			URL:         job.URL,
			MaxDepth:    job.MaxDepth,
			MaxSubpages: job.MaxSubpages,
			RunID:       job.RunID,
		}
		if _, err := w.service.EvaluateSite(ctx, req); err != nil {
			return fmt.Errorf("evaluate site: %w", err)
		}
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	return nil
}

// failRun marks the run errored. Failures that happen after progress events
// were emitted are usually recorded already; writing again is harmless.
func (w *Worker) failRun(ctx context.Context, job queue.Job, cause error) {
	if w.runs == nil {
		return
	}
	msg := cause.Error()
	err := w.runs.CompleteRun(context.WithoutCancel(ctx), job.RunID, job.Kind, w.clock.Now(), store.RunError, nil, nil, &msg)
	if err != nil {
		w.logger.Warn("mark run failed", zap.String("run_id", job.RunID.String()), zap.Error(err))
	}
}
