package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-evaluator/internal/progress"
)

// PrometheusSink derives run-level metrics from progress events. It owns its
// collectors so tests can register it against a private registry.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	pageDuration  prometheus.Histogram
	groupDuration *prometheus.HistogramVec
	crawlDuration *prometheus.HistogramVec
	crawlStatus   *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluator_progress_events_total",
			Help: "Progress events partitioned by type and category.",
		}, []string{"type", "category"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evaluator_runs_running",
			Help: "Page and site evaluations currently in flight.",
		}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evaluator_page_duration_seconds",
			Help:    "Wall time per evaluated page.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		groupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evaluator_group_duration_seconds",
			Help:    "Wall time per analyzer group.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"group"}),
		crawlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evaluator_crawl_duration_seconds",
			Help:    "Wall time per site crawl partitioned by result.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		crawlStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evaluator_crawl_responses_total",
			Help: "Crawled page responses partitioned by HTTP status class.",
		}, []string{"class"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.runsRunning,
		s.pageDuration,
		s.groupDuration,
		s.crawlDuration,
		s.crawlStatus,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		category := evt.Category
		if category == "" {
			category = progress.CategoryOf(evt.Type)
		}
		s.events.WithLabelValues(string(evt.Type), string(category)).Inc()
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Type {
	case progress.TypePageStart, progress.TypeCrawlStart:
		if s.tracker.start(evt.RunID, progress.CategoryOf(evt.Type)) {
			s.runsRunning.Inc()
		}
	case progress.TypePageDone, progress.TypePageError:
		if evt.Dur > 0 {
			s.pageDuration.Observe(evt.Dur.Seconds())
		}
		s.finish(evt.RunID, progress.CategoryPage)
	case progress.TypeGroupDone:
		if group := evt.String("group"); group != "" && evt.Dur > 0 {
			s.groupDuration.WithLabelValues(group).Observe(evt.Dur.Seconds())
		}
	case progress.TypeCrawlPage:
		class := progress.StatusOther
		if code, ok := evt.Float("status"); ok {
			class = progress.ClassifyStatus(int(code))
		}
		s.crawlStatus.WithLabelValues(string(class)).Inc()
	case progress.TypeCrawlDone:
		result := "success"
		if evt.Note != "" {
			result = "error"
		}
		if evt.Dur > 0 {
			s.crawlDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		s.finish(evt.RunID, progress.CategoryCrawl)
	}
}

// finish ends the run only when the event closes the run that started it, so
// pages inside a crawl do not end the crawl.
func (s *PrometheusSink) finish(id [16]byte, category progress.Category) {
	if s.tracker.complete(id, category) {
		s.runsRunning.Dec()
	}
}

// Close implements progress.Sink; it does nothing.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]progress.Category
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]progress.Category)}
}

// start records the first start event per run; its category owns the run.
func (t *runTracker) start(id [16]byte, category progress.Category) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = category
	return true
}

func (t *runTracker) complete(id [16]byte, category progress.Category) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	owner, ok := t.running[id]
	if !ok || owner != category {
		return false
	}
	delete(t.running, id)
	return true
}
