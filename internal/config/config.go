// Package config loads and validates evaluator configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

// EnvPrefix prefixes every environment override, e.g. EVALUATOR_SERVER_PORT.
const EnvPrefix = "EVALUATOR"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// CacheConfig controls the on-disk analyzer result cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Dir     string        `mapstructure:"dir"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// BrowserConfig sizes the headless browser pool.
type BrowserConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxBrowsers       int           `mapstructure:"max_browsers"`
	PagesPerBrowser   int           `mapstructure:"pages_per_browser"`
	AcquireTimeout    time.Duration `mapstructure:"acquire_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	Headless          bool          `mapstructure:"headless"`
}

// EvaluatorConfig controls page evaluation. Empty Groups selects the built-in
// default schedule.
type EvaluatorConfig struct {
	AnalyzerTimeout time.Duration              `mapstructure:"analyzer_timeout"`
	AcquireRetries  int                        `mapstructure:"acquire_retries"`
	Groups          []evaluation.AnalyzerGroup `mapstructure:"groups"`
}

// CrawlerConfig controls site crawls.
type CrawlerConfig struct {
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxSubpages       int           `mapstructure:"max_subpages"`
	Workers           int           `mapstructure:"workers"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	UserAgent         string        `mapstructure:"user_agent"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	// Render promotes client-rendered pages to a browser fetch.
	Render          bool `mapstructure:"render"`
	PromoteMinChars int  `mapstructure:"promote_min_chars"`
	MaxBodyBytes    int  `mapstructure:"max_body_bytes"`
}

// ProgressConfig sizes the progress event hub.
type ProgressConfig struct {
	BufferSize int  `mapstructure:"buffer_size"`
	LogEvents  bool `mapstructure:"log_events"`
}

// StorageConfig configures report hand-off. Every target is optional.
type StorageConfig struct {
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	ReportsTable string `mapstructure:"reports_table"`
	RunsTable    string `mapstructure:"runs_table"`
	ExportDir    string `mapstructure:"export_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	ExportPrefix string `mapstructure:"export_prefix"`
}

// PubSubConfig holds the completion-notice topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// JobsConfig sizes the asynchronous evaluation queue used by the server.
type JobsConfig struct {
	Workers    int           `mapstructure:"workers"`
	QueueDepth int           `mapstructure:"queue_depth"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	const userAgent = "site-evaluator/1.0"

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.request_timeout", "10m")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.dir", ".evaluator-cache")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.max_browsers", 2)
	v.SetDefault("browser.pages_per_browser", 4)
	v.SetDefault("browser.acquire_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.user_agent", userAgent)
	v.SetDefault("browser.headless", true)
	v.SetDefault("evaluator.analyzer_timeout", "30s")
	v.SetDefault("evaluator.acquire_retries", 1)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_subpages", 25)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("crawler.request_timeout", "15s")
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.retry_backoff", "250ms")
	v.SetDefault("crawler.user_agent", userAgent)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.render", true)
	v.SetDefault("crawler.promote_min_chars", 200)
	v.SetDefault("crawler.max_body_bytes", 5*1024*1024)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("storage.reports_table", "evaluation_reports")
	v.SetDefault("storage.runs_table", "evaluation_runs")
	v.SetDefault("storage.export_prefix", "reports")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_depth", 100)
	v.SetDefault("jobs.timeout", "30m")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be > 0"))
	}
	if c.Cache.Enabled {
		if strings.TrimSpace(c.Cache.Dir) == "" {
			errs = append(errs, errors.New("cache.dir must be set when the cache is enabled"))
		}
		if c.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache.ttl must be > 0"))
		}
	}
	if c.Browser.Enabled {
		if c.Browser.MaxBrowsers <= 0 {
			errs = append(errs, errors.New("browser.max_browsers must be > 0"))
		}
		if c.Browser.PagesPerBrowser <= 0 {
			errs = append(errs, errors.New("browser.pages_per_browser must be > 0"))
		}
		if c.Browser.AcquireTimeout <= 0 {
			errs = append(errs, errors.New("browser.acquire_timeout must be > 0"))
		}
	}
	if c.Evaluator.AnalyzerTimeout <= 0 {
		errs = append(errs, errors.New("evaluator.analyzer_timeout must be > 0"))
	}
	if c.Evaluator.AcquireRetries < 0 {
		errs = append(errs, errors.New("evaluator.acquire_retries must be >= 0"))
	}
	errs = append(errs, validateGroups(c.Evaluator.Groups)...)
	if c.Crawler.MaxDepth < 0 {
		errs = append(errs, errors.New("crawler.max_depth must be >= 0"))
	}
	if c.Crawler.MaxSubpages < 0 {
		errs = append(errs, errors.New("crawler.max_subpages must be >= 0"))
	}
	if c.Crawler.Workers <= 0 {
		errs = append(errs, errors.New("crawler.workers must be > 0"))
	}
	if c.Crawler.RequestTimeout <= 0 {
		errs = append(errs, errors.New("crawler.request_timeout must be > 0"))
	}
	if c.Crawler.MaxRetries < 0 {
		errs = append(errs, errors.New("crawler.max_retries must be >= 0"))
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, errors.New("jobs.workers must be > 0"))
	}
	if c.Jobs.QueueDepth <= 0 {
		errs = append(errs, errors.New("jobs.queue_depth must be > 0"))
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic is"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", evaluation.ErrInvalidConfig, err)
	}
	return nil
}

func validateGroups(groups []evaluation.AnalyzerGroup) []error {
	var errs []error
	seen := make(map[string]struct{}, len(groups))
	for i, g := range groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("evaluator.groups[%d].name must be set", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("evaluator.groups: duplicate group %q", name))
		}
		seen[name] = struct{}{}
		if len(g.Analyzers) == 0 {
			errs = append(errs, fmt.Errorf("evaluator.groups[%s] has no analyzers", name))
		}
	}
	return errs
}
