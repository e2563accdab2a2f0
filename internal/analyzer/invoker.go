package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/browser"
	"github.com/JakeFAU/site-evaluator/internal/cache"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/metrics"
)

const defaultTimeout = 30 * time.Second

var errTimedOut = errors.New("analyzer timed out")

// Outcome classifies how an invocation ended.
type Outcome string

// Invocation outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeCached  Outcome = "cached"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
	OutcomeInvalid Outcome = "invalid"
)

// ResultCache is the subset of the disk cache the invoker needs.
type ResultCache interface {
	Get(ctx context.Context, key cache.Key) (cache.Entry, bool)
	Set(ctx context.Context, key cache.Key, value any)
}

// Materials are the inputs available for one page. Page is nil when no live
// page was leased.
type Materials struct {
	URL  string
	HTML string
	Page browser.Page
}

// Invocation is the result of running one analyzer.
type Invocation struct {
	Result   evaluation.AnalysisResult
	Outcome  Outcome
	Duration time.Duration
}

// Failed reports whether the result is a degraded stand-in.
func (i Invocation) Failed() bool {
	return i.Outcome == OutcomeFailed || i.Outcome == OutcomeTimeout || i.Outcome == OutcomeInvalid
}

// Config controls the invoker.
type Config struct {
	Timeout time.Duration
}

// Invoker runs analyzers. It never returns an error: failures, timeouts,
// panics and malformed output become degraded results.
type Invoker struct {
	cfg    Config
	cache  ResultCache
	clock  evaluation.Clock
	logger *zap.Logger
}

// NewInvoker builds an Invoker. A nil cache disables caching.
func NewInvoker(cfg Config, resultCache ResultCache, clock evaluation.Clock, logger *zap.Logger) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		cfg:    cfg,
		cache:  resultCache,
		clock:  clock,
		logger: logger.Named("invoker"),
	}
}

// Invoke consults the cache, runs a on a miss under the configured timeout,
// normalizes its output and writes successful results back to the cache.
func (i *Invoker) Invoke(ctx context.Context, m Materials, a Analyzer) Invocation {
	id, version := a.ID(), a.Version()
	key := cache.Key{URL: m.URL, AnalyzerID: id, Version: version}
	if res, ok := i.lookup(ctx, key); ok {
		metrics.ObserveAnalyzer(id, string(OutcomeCached), 0)
		return Invocation{Result: res, Outcome: OutcomeCached}
	}

	start := time.Now()
	raw, err := i.call(ctx, m, a)
	elapsed := time.Since(start)

	inv := Invocation{Duration: elapsed}
	switch {
	case errors.Is(err, errTimedOut):
		inv.Outcome = OutcomeTimeout
		inv.Result = i.degrade(id, m.URL, version, fmt.Sprintf("analyzer %s timed out after %s", id, i.cfg.Timeout))
	case err != nil:
		inv.Outcome = OutcomeFailed
		inv.Result = i.degrade(id, m.URL, version, fmt.Sprintf("analyzer %s failed: %v", id, err))
	default:
		res, normErr := Normalize(raw, id, m.URL, version, i.clock.Now())
		if normErr != nil {
			inv.Outcome = OutcomeInvalid
			inv.Result = i.degrade(id, m.URL, version, normErr.Error())
			err = normErr
			break
		}
		inv.Outcome = OutcomeSuccess
		inv.Result = res
		if i.cache != nil {
			i.cache.Set(ctx, key, res)
		}
	}

	if inv.Failed() {
		i.logger.Warn("analyzer degraded",
			zap.String("analyzer", id),
			zap.String("url", m.URL),
			zap.String("outcome", string(inv.Outcome)),
			zap.Error(err),
		)
	}
	metrics.ObserveAnalyzer(id, string(inv.Outcome), elapsed)
	return inv
}

func (i *Invoker) lookup(ctx context.Context, key cache.Key) (evaluation.AnalysisResult, bool) {
	if i.cache == nil {
		return evaluation.AnalysisResult{}, false
	}
	entry, ok := i.cache.Get(ctx, key)
	if !ok {
		return evaluation.AnalysisResult{}, false
	}
	var res evaluation.AnalysisResult
	if err := json.Unmarshal(entry.Value, &res); err != nil {
		i.logger.Warn("cached result undecodable", zap.String("analyzer", key.AnalyzerID), zap.Error(err))
		return evaluation.AnalysisResult{}, false
	}
	if res.AnalyzerID != key.AnalyzerID || res.Version != key.Version {
		return evaluation.AnalysisResult{}, false
	}
	return res, true
}

type callResult struct {
	raw any
	err error
}

// call runs the analyzer on its own goroutine so a slow analyzer cannot hold
// the caller past the timeout. Panics become errors.
func (i *Invoker) call(ctx context.Context, m Materials, a Analyzer) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- callResult{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		raw, err := dispatch(callCtx, m, a)
		done <- callResult{raw: raw, err: err}
	}()

	select {
	case out := <-done:
		return out.raw, out.err
	case <-callCtx.Done():
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, errTimedOut
		}
		return nil, fmt.Errorf("canceled: %w", ctx.Err())
	}
}

func dispatch(ctx context.Context, m Materials, a Analyzer) (any, error) {
	if strings.TrimSpace(m.HTML) == "" {
		return nil, fmt.Errorf("no html available")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(m.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	switch v := a.(type) {
	case StaticContentAnalyzer:
		return v.AnalyzeContent(ctx, m.URL, m.HTML, doc)
	case DOMAnalyzer:
		return v.AnalyzeDOM(ctx, m.URL, doc)
	case LivePageAnalyzer:
		if m.Page == nil {
			return nil, fmt.Errorf("live page unavailable")
		}
		return v.AnalyzeLive(ctx, m.URL, m.Page, doc)
	default:
		return nil, fmt.Errorf("analyzer implements no calling convention")
	}
}

func (i *Invoker) degrade(id, url, version, message string) evaluation.AnalysisResult {
	return evaluation.Degraded(id, url, version, message, i.clock.Now())
}
