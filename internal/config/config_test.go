package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10*time.Minute, cfg.Server.RequestTimeout)
	require.Empty(t, cfg.Server.APIKey)
	require.True(t, cfg.Cache.Enabled)
	require.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	require.Equal(t, 2, cfg.Browser.MaxBrowsers)
	require.Equal(t, 4, cfg.Browser.PagesPerBrowser)
	require.Equal(t, 30*time.Second, cfg.Evaluator.AnalyzerTimeout)
	require.Empty(t, cfg.Evaluator.Groups)
	require.Equal(t, 2, cfg.Crawler.MaxDepth)
	require.Equal(t, 250*time.Millisecond, cfg.Crawler.RetryBackoff)
	require.InDelta(t, 2.0, cfg.Crawler.RequestsPerSecond, 1e-9)
	require.Equal(t, "evaluation_reports", cfg.Storage.ReportsTable)
	require.Equal(t, "evaluation_runs", cfg.Storage.RunsTable)
	require.Equal(t, 2, cfg.Jobs.Workers)
	require.Equal(t, 100, cfg.Jobs.QueueDepth)
	require.Equal(t, 30*time.Minute, cfg.Jobs.Timeout)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  development: true
  level: debug
server:
  port: 9090
cache:
  dir: /tmp/eval-cache
  ttl: 1h
browser:
  enabled: false
evaluator:
  analyzer_timeout: 5s
  groups:
    - name: content
      analyzers: [content, seo]
    - name: security
      analyzers: [security]
      requires_live_page: true
crawler:
  max_depth: 4
  max_subpages: 0
  workers: 8
  requests_per_second: 0.5
storage:
  postgres_dsn: postgres://localhost/evaluator
  export_dir: /var/reports
pubsub:
  project_id: demo
  topic: evaluations
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "/tmp/eval-cache", cfg.Cache.Dir)
	require.Equal(t, time.Hour, cfg.Cache.TTL)
	require.False(t, cfg.Browser.Enabled)
	require.Equal(t, 5*time.Second, cfg.Evaluator.AnalyzerTimeout)
	require.Equal(t, []evaluation.AnalyzerGroup{
		{Name: "content", Analyzers: []string{"content", "seo"}},
		{Name: "security", Analyzers: []string{"security"}, RequiresLivePage: true},
	}, cfg.Evaluator.Groups)
	require.Equal(t, 4, cfg.Crawler.MaxDepth)
	require.Zero(t, cfg.Crawler.MaxSubpages)
	require.Equal(t, 8, cfg.Crawler.Workers)
	require.Equal(t, "postgres://localhost/evaluator", cfg.Storage.PostgresDSN)
	require.Equal(t, "evaluations", cfg.PubSub.Topic)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EVALUATOR_SERVER_PORT", "7070")
	t.Setenv("EVALUATOR_CRAWLER_MAX_DEPTH", "0")
	t.Setenv("EVALUATOR_BROWSER_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Zero(t, cfg.Crawler.MaxDepth)
	require.False(t, cfg.Browser.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "request timeout", mutate: func(c *Config) { c.Server.RequestTimeout = 0 }, want: "server.request_timeout"},
		{name: "cache ttl", mutate: func(c *Config) { c.Cache.TTL = 0 }, want: "cache.ttl"},
		{name: "browsers", mutate: func(c *Config) { c.Browser.MaxBrowsers = 0 }, want: "browser.max_browsers"},
		{name: "analyzer timeout", mutate: func(c *Config) { c.Evaluator.AnalyzerTimeout = 0 }, want: "analyzer_timeout"},
		{name: "workers", mutate: func(c *Config) { c.Crawler.Workers = 0 }, want: "crawler.workers"},
		{name: "negative depth", mutate: func(c *Config) { c.Crawler.MaxDepth = -1 }, want: "crawler.max_depth"},
		{name: "empty group", mutate: func(c *Config) {
			c.Evaluator.Groups = []evaluation.AnalyzerGroup{{Name: "content"}}
		}, want: "has no analyzers"},
		{name: "duplicate group", mutate: func(c *Config) {
			c.Evaluator.Groups = []evaluation.AnalyzerGroup{
				{Name: "content", Analyzers: []string{"a"}},
				{Name: "content", Analyzers: []string{"b"}},
			}
		}, want: "duplicate group"},
		{name: "job workers", mutate: func(c *Config) { c.Jobs.Workers = 0 }, want: "jobs.workers"},
		{name: "queue depth", mutate: func(c *Config) { c.Jobs.QueueDepth = -1 }, want: "jobs.queue_depth"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.Topic = "t" }, want: "pubsub.project_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, evaluation.ErrInvalidConfig)
			require.ErrorContains(t, err, tt.want)
		})
	}

	disabled := base
	disabled.Browser.Enabled = false
	disabled.Browser.MaxBrowsers = 0
	disabled.Cache.Enabled = false
	disabled.Cache.TTL = 0
	require.NoError(t, disabled.Validate())
}
