// Package ratelimit paces crawler fetches with one token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/site-evaluator/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables
// limiting for that host.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// PerHost overrides DefaultRPS for specific hostnames.
	PerHost map[string]float64
}

// Limiter manages per-host rate limits. It implements crawler.Limiter.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	perHost      map[string]rate.Limit
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	perHost := make(map[string]rate.Limit, len(cfg.PerHost))
	for host, rps := range cfg.PerHost {
		perHost[strings.ToLower(host)] = toLimit(rps)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
		perHost:      perHost,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until a token is available for rawURL's host or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.forHost(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// immediate grants are not delays
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limit, override := l.perHost[host]
		if !override {
			limit = l.defaultRate
		}
		limiter = rate.NewLimiter(limit, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
