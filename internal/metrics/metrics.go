// Package metrics exposes Prometheus collectors for the evaluator service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	analyzerInvocationsTotal   *prometheus.CounterVec
	analyzerDurationSeconds    *prometheus.HistogramVec
	cacheOperationsTotal       *prometheus.CounterVec
	browserPoolPages           *prometheus.GaugeVec
	browserPoolBrowsers        prometheus.Gauge
	browserAcquireWaitSeconds  prometheus.Histogram
	browserAcquireFailures     *prometheus.CounterVec
	pageEvaluationsTotal       *prometheus.CounterVec
	pageRatings                prometheus.Histogram
	crawlPagesTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	robotsFallbacksTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		analyzerInvocationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaluator_analyzer_invocations_total",
				Help: "Analyzer invocations, labeled by analyzer and outcome.",
			},
			[]string{"analyzer", "outcome"},
		)

		analyzerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evaluator_analyzer_duration_seconds",
				Help:    "Wall time of analyzer invocations that were not served from cache.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"analyzer"},
		)

		cacheOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaluator_cache_operations_total",
				Help: "Result cache operations, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		browserPoolPages = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "evaluator_browser_pool_pages",
				Help: "Browser page handles held by the pool, labeled by state.",
			},
			[]string{"state"},
		)

		browserPoolBrowsers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "evaluator_browser_pool_browsers",
				Help: "Browser processes currently owned by the pool.",
			},
		)

		browserAcquireWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evaluator_browser_acquire_wait_seconds",
				Help:    "Time spent waiting for a browser page handle.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
			},
		)

		browserAcquireFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaluator_browser_acquire_failures_total",
				Help: "Failed page handle acquisitions, labeled by reason.",
			},
			[]string{"reason"},
		)

		pageEvaluationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaluator_page_evaluations_total",
				Help: "Completed page evaluations, labeled by rating class.",
			},
			[]string{"class"},
		)

		pageRatings = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evaluator_page_rating",
				Help:    "Distribution of page ratings.",
				Buckets: []float64{20, 40, 60, 75, 90, 100},
			},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaluator_crawl_pages_total",
				Help: "Pages processed by the site crawler, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "evaluator_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evaluator_robots_fallbacks_total",
				Help: "robots.txt probes that fell back to allow-all, labeled by reason.",
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveAnalyzer records one analyzer invocation. Cached invocations carry no
// duration.
func ObserveAnalyzer(analyzer, outcome string, duration time.Duration) {
	Init()
	analyzerInvocationsTotal.WithLabelValues(analyzer, outcome).Inc()
	if outcome != "cached" {
		analyzerDurationSeconds.WithLabelValues(analyzer).Observe(duration.Seconds())
	}
}

// ObserveCache records a cache operation result (hit, miss, expired, corrupt, ok, error).
func ObserveCache(op, result string) {
	Init()
	cacheOperationsTotal.WithLabelValues(op, result).Inc()
}

// SetBrowserPool publishes the pool's current shape.
func SetBrowserPool(browsers, leased, idle int) {
	Init()
	browserPoolBrowsers.Set(float64(browsers))
	browserPoolPages.WithLabelValues("leased").Set(float64(leased))
	browserPoolPages.WithLabelValues("idle").Set(float64(idle))
}

// ObserveAcquireWait records how long a caller waited for a page handle.
func ObserveAcquireWait(d time.Duration) {
	Init()
	browserAcquireWaitSeconds.Observe(d.Seconds())
}

// ObserveAcquireFailure counts a failed acquisition (exhausted, closed, launch, canceled).
func ObserveAcquireFailure(reason string) {
	Init()
	browserAcquireFailures.WithLabelValues(reason).Inc()
}

// ObservePage records a finished page evaluation.
func ObservePage(class string, rating float64) {
	Init()
	pageEvaluationsTotal.WithLabelValues(class).Inc()
	pageRatings.Observe(rating)
}

// ObserveCrawlPage increments the crawl page counter.
func ObserveCrawlPage(site, status string) {
	Init()
	crawlPagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that gave up and allowed all.
func ObserveRobotsFallback(reason string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
