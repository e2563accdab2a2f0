// Package server runs the HTTP API on top of a built application.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/api"
	"github.com/JakeFAU/site-evaluator/internal/app"
)

const (
	readHeaderTimeout      = 5 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// Server owns the http.Server for one App. It does not close the App.
type Server struct {
	app             *app.App
	http            *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// New builds the API router for a and wraps it in an http.Server.
func New(a *app.App) *Server {
	cfg := a.Config()
	opts := []api.Option{api.WithRunRepository(a.Runs()), api.WithJobs(a)}
	for name, check := range a.ReadinessChecks() {
		opts = append(opts, api.WithReadinessCheck(name, check))
	}
	router := api.NewServer(api.Config{
		RequestTimeout:     cfg.Server.RequestTimeout,
		APIKey:             cfg.Server.APIKey,
		DefaultMaxDepth:    cfg.Crawler.MaxDepth,
		DefaultMaxSubpages: cfg.Crawler.MaxSubpages,
	}, a, a.Logger(), opts...)

	shutdown := cfg.Server.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = defaultShutdownTimeout
	}
	return &Server{
		app: a,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		shutdownTimeout: shutdown,
		logger:          a.Logger().Named("server"),
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. In-flight evaluations get up to the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// Run starts the job workers and serves a on its configured port until SIGINT
// or SIGTERM, then closes a, which drains the job queue.
func Run(ctx context.Context, a *app.App) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := New(a)
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	a.StartWorkers(ctx)
	serveErr := s.Serve(ctx, ln)

	closeCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	closeErr := a.Close(closeCtx)
	return errors.Join(serveErr, closeErr)
}
