package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/metrics"
	"github.com/JakeFAU/site-evaluator/internal/store"
)

const (
	defaultRequestTimeout = 10 * time.Minute
	maxBodyBytes          = 1 << 20
)

// Service runs evaluations on behalf of HTTP callers.
type Service interface {
	EvaluatePage(ctx context.Context, rawURL string) (evaluation.PageReport, error)
	EvaluateSite(ctx context.Context, req crawler.Request) (evaluation.SiteReport, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Config controls the router.
type Config struct {
	RequestTimeout time.Duration
	APIKey         string
	// Site defaults apply when a request omits max_depth or max_subpages.
	DefaultMaxDepth    int
	DefaultMaxSubpages int
}

// Server wires HTTP handlers to the evaluation service.
type Server struct {
	cfg     Config
	router  chi.Router
	service Service
	runs    *RunsHandler
	jobs    JobService
	checks  map[string]ReadinessCheck
	logger  *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithRunRepository enables the /v1/runs endpoints.
func WithRunRepository(repo store.RunRepository) Option {
	return func(s *Server) {
		s.runs = NewRunsHandler(repo, s.logger)
	}
}

// WithJobs enables POST /v1/jobs.
func WithJobs(jobs JobService) Option {
	return func(s *Server) {
		s.jobs = jobs
	}
}

// WithReadinessCheck adds a named check to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, service Service, logger *zap.Logger, opts ...Option) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		service: service,
		checks:  make(map[string]ReadinessCheck),
		logger:  logger.Named("api"),
	}
	s.runs = NewRunsHandler(nil, s.logger)
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Post("/evaluations/page", s.evaluatePage)
		r.Post("/evaluations/site", s.evaluateSite)
		r.Post("/jobs", s.submitJob)
		r.Get("/runs", s.runs.ListRuns)
		r.Get("/runs/{run_id}", s.runs.GetRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type pageRequest struct {
	URL string `json:"url"`
}

type siteRequest struct {
	URL         string `json:"url"`
	MaxDepth    *int   `json:"max_depth"`
	MaxSubpages *int   `json:"max_subpages"`
}

func (s *Server) evaluatePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rep, err := s.service.EvaluatePage(r.Context(), req.URL)
	if err != nil {
		s.writeEvalError(w, "page", req.URL, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) evaluateSite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	crawlReq := crawler.Request{
		URL:         req.URL,
		MaxDepth:    valueOrDefault(req.MaxDepth, s.cfg.DefaultMaxDepth),
		MaxSubpages: valueOrDefault(req.MaxSubpages, s.cfg.DefaultMaxSubpages),
	}
	rep, err := s.service.EvaluateSite(r.Context(), crawlReq)
	if err != nil {
		s.writeEvalError(w, "site", req.URL, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) writeEvalError(w http.ResponseWriter, kind, target string, err error) {
	if errors.Is(err, evaluation.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("evaluation failed", zap.String("kind", kind), zap.String("url", target), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
