// Package cmd defines the site-evaluator command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-evaluator/internal/app"
	"github.com/JakeFAU/site-evaluator/internal/cache"
	"github.com/JakeFAU/site-evaluator/internal/config"
	"github.com/JakeFAU/site-evaluator/internal/crawler"
	"github.com/JakeFAU/site-evaluator/internal/evaluation"
	"github.com/JakeFAU/site-evaluator/internal/logging"
	"github.com/JakeFAU/site-evaluator/internal/server"
)

const closeTimeout = 30 * time.Second

// App is what the commands need from the application. Tests swap in a fake.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Cache() *cache.DiskCache
	EvaluatePage(ctx context.Context, rawURL string) (evaluation.PageReport, error)
	EvaluateSite(ctx context.Context, req crawler.Request) (evaluation.SiteReport, error)
	Close(ctx context.Context) error
}

type appKeyType string

const appKey appKeyType = "app"

// newApp loads configuration and builds the application.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// runServer serves the API until interrupted. It owns closing the app.
var runServer = func(ctx context.Context, a App) error {
	built, ok := a.(*app.App)
	if !ok {
		return errors.New("serve requires a fully built application")
	}
	return server.Run(ctx, built)
}

// session tracks the app built for one invocation so it is closed even when
// the command fails.
type session struct {
	app App
}

func (s *session) close(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	err := s.app.Close(ctx)
	s.app = nil
	return err
}

func newRootCmd(s *session) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "site-evaluator",
		Short: "Evaluates web pages and whole sites with pluggable analyzers.",
		Long: `site-evaluator renders pages, runs analyzer groups against them and rolls
the results up into page and site ratings. It runs one-off evaluations from the
command line or serves them over HTTP.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (env vars use the EVALUATOR_ prefix)")

	cmd.AddCommand(newPageCmd(), newSiteCmd(), newProjectCmd(), newServeCmd(), newCacheCmd())
	return cmd
}

// Execute runs the command line with args and closes whatever it built.
func Execute(ctx context.Context, args []string) error {
	s := &session{}
	root := newRootCmd(s)
	root.SetArgs(args)
	runErr := root.ExecuteContext(ctx)
	return errors.Join(runErr, s.close(ctx))
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
