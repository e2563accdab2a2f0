// Package page evaluates a single page by running the configured analyzer
// groups in order and folding their results into a PageReport.
package page

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-evaluator/internal/analyzer"
	"github.com/JakeFAU/site-evaluator/internal/browser"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/metrics"
	"github.com/JakeFAU/site-evaluator/internal/progress"
	"github.com/JakeFAU/site-evaluator/internal/report"
)

// Pool leases live browser pages.
type Pool interface {
	Acquire(ctx context.Context) (*browser.Handle, error)
	Release(h *browser.Handle)
	Discard(h *browser.Handle)
}

// Invoker runs one analyzer against the page materials.
type Invoker interface {
	Invoke(ctx context.Context, m analyzer.Materials, a analyzer.Analyzer) analyzer.Invocation
}

// Config tunes the evaluator.
type Config struct {
	// AcquireRetries is how many extra attempts are made when the browser pool
	// reports exhaustion.
	AcquireRetries int
}

// Target is one page to evaluate. An empty HTML asks the evaluator to render
// the page in a leased browser tab. A zero RunID gets a fresh id.
type Target struct {
	URL   string
	Name  string
	HTML  string
	RunID [16]byte
}

// Evaluator runs analyzer groups sequentially, with the members of each group
// invoked concurrently.
type Evaluator struct {
	cfg     Config
	plan    analyzer.Plan
	invoker Invoker
	pool    Pool
	events  progress.Emitter
	clock   evaluation.Clock
	ids     evaluation.IDGenerator
	logger  *zap.Logger
}

// NewEvaluator wires an Evaluator. pool may be nil, in which case pages must
// come with HTML and live-page analyzers degrade.
func NewEvaluator(
	cfg Config,
	plan analyzer.Plan,
	invoker Invoker,
	pool Pool,
	events progress.Emitter,
	clock evaluation.Clock,
	ids evaluation.IDGenerator,
	logger *zap.Logger,
) (*Evaluator, error) {
	if len(plan.Groups()) == 0 {
		return nil, fmt.Errorf("page evaluator needs at least one analyzer group: %w", evaluation.ErrInvalidConfig)
	}
	if invoker == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("page evaluator requires invoker, clock and id generator: %w", evaluation.ErrInvalidConfig)
	}
	if cfg.AcquireRetries < 0 {
		cfg.AcquireRetries = 0
	}
	if events == nil {
		events = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		cfg:     cfg,
		plan:    plan,
		invoker: invoker,
		pool:    pool,
		events:  events,
		clock:   clock,
		ids:     ids,
		logger:  logger.Named("page"),
	}, nil
}

// run carries the per-evaluation state shared by the helpers below.
type run struct {
	id   [16]byte
	url  string
	perf evaluation.PagePerformance
}

// Evaluate produces the PageReport for t. Validation failures and failures of
// the scheduling itself return an error and no report; analyzer failures are
// contained in the report as degraded results.
func (e *Evaluator) Evaluate(ctx context.Context, t Target) (evaluation.PageReport, error) {
	start := time.Now()
	u, err := evaluation.ValidateURL(t.URL)
	if err != nil {
		return evaluation.PageReport{}, err
	}
	r := &run{id: t.RunID, url: u.String(), perf: evaluation.PagePerformance{GroupMS: map[string]float64{}}}
	if r.id == [16]byte{} {
		raw, idErr := e.ids.NewRawID()
		if idErr != nil {
			return evaluation.PageReport{}, fmt.Errorf("run id: %w", idErr)
		}
		r.id = progress.UUIDToBytes(raw)
	}
	name := t.Name
	if name == "" {
		name = NameForURL(u)
	}
	e.emit(r, progress.TypePageStart, 0, map[string]any{"page_name": name}, "")

	html := t.HTML
	needsRender := strings.TrimSpace(html) == ""
	var live browser.Page
	if e.plan.RequiresLivePage() || needsRender {
		handle, rendered, prepErr := e.prepare(ctx, r, needsRender)
		if handle != nil {
			defer e.pool.Release(handle)
		}
		if prepErr != nil {
			return e.fail(r, start, prepErr)
		}
		if r.perf.LivePageUsed {
			live = handle.Page()
		}
		if needsRender {
			html = rendered
		}
	}
	if strings.TrimSpace(html) == "" {
		return e.fail(r, start, &evaluation.ValidationError{Field: "html", Reason: "page content is empty"})
	}

	materials := analyzer.Materials{URL: r.url, HTML: html, Page: live}
	results := make(map[string]evaluation.AnalysisResult)
	for _, group := range e.plan.Groups() {
		if err := e.runGroup(ctx, r, group, materials, results); err != nil {
			return e.fail(r, start, err)
		}
	}

	scores := make([]float64, 0, len(results))
	for _, res := range results {
		scores = append(scores, res.OverallScore)
	}
	rating := report.Rating(scores)
	class := report.Classify(rating)
	r.perf.TotalMS = millis(time.Since(start))

	metrics.ObservePage(string(class), rating)
	e.emit(r, progress.TypePageDone, time.Since(start), map[string]any{
		"page_name": name,
		"rating":    rating,
		"class":     string(class),
		"analyzers": r.perf.Analyzers,
		"failed":    r.perf.Failed,
	}, "")
	return evaluation.PageReport{
		URL:                r.url,
		PageName:           name,
		PageRating:         rating,
		PageClass:          class,
		Results:            results,
		PerformanceMetrics: r.perf,
	}, nil
}

// prepare leases a browser tab and navigates it. When the page must be
// rendered, any failure is fatal; otherwise the evaluation continues without a
// live page and live-page analyzers degrade. The returned handle, if non-nil,
// must be released by the caller.
func (e *Evaluator) prepare(ctx context.Context, r *run, needsRender bool) (*browser.Handle, string, error) {
	if e.pool == nil {
		if needsRender {
			return nil, "", &evaluation.ValidationError{Field: "html", Reason: "page content is empty and no browser is configured"}
		}
		return nil, "", nil
	}
	renderStart := time.Now()
	handle, err := e.acquire(ctx)
	if err != nil {
		if needsRender {
			return nil, "", fmt.Errorf("acquire browser page: %w", err)
		}
		e.logger.Warn("continuing without live page", zap.String("url", r.url), zap.Error(err))
		return nil, "", nil
	}

	page := handle.Page()
	if _, err := page.Goto(ctx, r.url); err != nil {
		if needsRender {
			return handle, "", fmt.Errorf("navigate %s: %w", r.url, err)
		}
		e.logger.Warn("navigation failed; live-page analyzers will degrade", zap.String("url", r.url), zap.Error(err))
		return handle, "", nil
	}
	r.perf.LivePageUsed = true

	var html string
	if needsRender {
		html, err = page.Content(ctx)
		if err != nil {
			e.pool.Discard(handle)
			return handle, "", fmt.Errorf("read rendered content: %w", err)
		}
		r.perf.Rendered = true
	}
	r.perf.RenderMS = millis(time.Since(renderStart))
	return handle, html, nil
}

func (e *Evaluator) acquire(ctx context.Context) (*browser.Handle, error) {
	var err error
	for attempt := 0; attempt <= e.cfg.AcquireRetries; attempt++ {
		var h *browser.Handle
		h, err = e.pool.Acquire(ctx)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, evaluation.ErrResourceExhausted) {
			return nil, err
		}
		e.logger.Debug("browser pool exhausted", zap.Int("attempt", attempt+1))
	}
	return nil, err
}

// runGroup invokes every member of group concurrently and merges the results
// once the whole group has finished.
func (e *Evaluator) runGroup(
	ctx context.Context,
	r *run,
	group analyzer.PlannedGroup,
	m analyzer.Materials,
	results map[string]evaluation.AnalysisResult,
) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("group %s: %w", group.Group.Name, err)
	}
	groupStart := time.Now()
	e.emit(r, progress.TypeGroupStart, 0, map[string]any{
		"group":     group.Group.Name,
		"analyzers": len(group.Members),
	}, "")

	invocations := make([]analyzer.Invocation, len(group.Members))
	var g errgroup.Group
	for i, member := range group.Members {
		g.Go(func() error {
			inv := e.invoker.Invoke(ctx, m, member)
			if inv.Result.AnalyzerID != member.ID() {
				return fmt.Errorf("analyzer %q returned result for %q: %w", member.ID(), inv.Result.AnalyzerID, evaluation.ErrInvalidConfig)
			}
			invocations[i] = inv
			e.emit(r, progress.TypeAnalyzerDone, inv.Duration, map[string]any{
				"group":    group.Group.Name,
				"analyzer": member.ID(),
				"outcome":  string(inv.Outcome),
				"score":    inv.Result.OverallScore,
			}, "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("group %s: %w", group.Group.Name, err)
	}

	for i, inv := range invocations {
		id := group.Members[i].ID()
		if _, dup := results[id]; dup {
			return fmt.Errorf("analyzer %q already has a result: %w", id, evaluation.ErrInvalidConfig)
		}
		results[id] = inv.Result
		r.perf.Analyzers++
		switch {
		case inv.Failed():
			r.perf.Failed++
		case inv.Outcome == analyzer.OutcomeCached:
			r.perf.Cached++
		}
	}
	elapsed := time.Since(groupStart)
	r.perf.GroupMS[group.Group.Name] = millis(elapsed)
	e.emit(r, progress.TypeGroupDone, elapsed, map[string]any{"group": group.Group.Name}, "")
	return nil
}

func (e *Evaluator) fail(r *run, start time.Time, err error) (evaluation.PageReport, error) {
	metrics.ObservePage(string(evaluation.ClassError), 0)
	e.emit(r, progress.TypePageError, time.Since(start), nil, err.Error())
	e.logger.Warn("page evaluation failed", zap.String("url", r.url), zap.Error(err))
	return evaluation.PageReport{}, err
}

func (e *Evaluator) emit(r *run, typ progress.Type, dur time.Duration, payload map[string]any, note string) {
	e.events.Emit(progress.Event{
		RunID:   r.id,
		TS:      e.clock.Now(),
		Type:    typ,
		URL:     r.url,
		Payload: payload,
		Dur:     dur,
		Note:    note,
	})
}

// NameForURL derives a report key from the URL path: "/" becomes "home",
// anything else is the path without surrounding slashes plus the query.
func NameForURL(u *url.URL) string {
	name := strings.Trim(u.EscapedPath(), "/")
	if name == "" {
		name = "home"
	}
	if u.RawQuery != "" {
		name += "?" + u.RawQuery
	}
	return name
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
