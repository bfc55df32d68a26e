// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/job-listing-crawler/internal/sites"
)

// Export backends.
const (
	ExportNone  = "none"
	ExportLocal = "local"
	ExportGCS   = "gcs"
)

// Config captures every knob of both passes.
type Config struct {
	Debug        bool               `mapstructure:"debug"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Enricher     EnricherConfig     `mapstructure:"enricher"`
	Export       ExportConfig       `mapstructure:"export"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Sites        []sites.Config     `mapstructure:"sites"`
}

// BrowserConfig controls the chromedp browser used by the listing pass.
type BrowserConfig struct {
	ChromePath        string        `mapstructure:"chrome_path"`
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
}

// OrchestratorConfig governs the listing pass.
type OrchestratorConfig struct {
	OutputPath         string        `mapstructure:"output_path"`
	WriteSiteFiles     bool          `mapstructure:"write_site_files"`
	SiteDelay          time.Duration `mapstructure:"site_delay"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	ListingTimeout     time.Duration `mapstructure:"listing_timeout"`
	SettleInterval     time.Duration `mapstructure:"settle_interval"`
	ButtonTimeout      time.Duration `mapstructure:"button_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout"`
}

// EnricherConfig governs the detail pass and its playwright browser.
type EnricherConfig struct {
	InputPath          string        `mapstructure:"input_path"`
	ChromiumPath       string        `mapstructure:"chromium_path"`
	Headless           bool          `mapstructure:"headless"`
	UserAgent          string        `mapstructure:"user_agent"`
	BatchSize          int           `mapstructure:"batch_size"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	DescriptionTimeout time.Duration `mapstructure:"description_timeout"`
	DomainQPS          float64       `mapstructure:"domain_qps"`
}

// ExportConfig mirrors finished files to blob storage and notifies ingestion.
type ExportConfig struct {
	Backend       string `mapstructure:"backend"`
	LocalDir      string `mapstructure:"local_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// MetricsConfig points at an optional Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// Load builds a Config from defaults, an optional file and the environment.
// With an empty path, crawler.yaml is looked up in the working directory and
// /etc/jobcrawler; a missing file there is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("crawler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/jobcrawler/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Sites) == 0 {
		cfg.Sites = sites.Default()
	}
	if cfg.Enricher.InputPath == "" {
		cfg.Enricher.InputPath = cfg.Orchestrator.OutputPath
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("browser.chrome_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.action_timeout", 10*time.Second)

	v.SetDefault("orchestrator.output_path", "data/listings.json")
	v.SetDefault("orchestrator.write_site_files", true)
	v.SetDefault("orchestrator.site_delay", 3*time.Second)
	v.SetDefault("orchestrator.max_retries", 2)
	v.SetDefault("orchestrator.retry_delay", 5*time.Second)
	v.SetDefault("orchestrator.listing_timeout", 15*time.Second)
	v.SetDefault("orchestrator.settle_interval", 2*time.Second)
	v.SetDefault("orchestrator.button_timeout", 5*time.Second)
	v.SetDefault("orchestrator.network_idle_timeout", 10*time.Second)

	v.SetDefault("enricher.input_path", "")
	v.SetDefault("enricher.chromium_path", "")
	v.SetDefault("enricher.headless", true)
	v.SetDefault("enricher.user_agent", "")
	v.SetDefault("enricher.batch_size", 20)
	v.SetDefault("enricher.navigation_timeout", 30*time.Second)
	v.SetDefault("enricher.description_timeout", 5*time.Second)
	v.SetDefault("enricher.domain_qps", 0.0)

	v.SetDefault("export.backend", ExportNone)
	v.SetDefault("export.local_dir", "data/export")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "listings")
	v.SetDefault("export.pubsub_project", "")
	v.SetDefault("export.pubsub_topic", "")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "jobcrawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Orchestrator.OutputPath == "" {
		return fmt.Errorf("orchestrator.output_path must be set")
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be >= 0")
	}
	if c.Orchestrator.RetryDelay < 0 || c.Orchestrator.SiteDelay < 0 {
		return fmt.Errorf("orchestrator.retry_delay and orchestrator.site_delay must be >= 0")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	if c.Orchestrator.ListingTimeout <= 0 {
		return fmt.Errorf("orchestrator.listing_timeout must be > 0")
	}
	if c.Enricher.BatchSize <= 0 {
		return fmt.Errorf("enricher.batch_size must be > 0")
	}
	if c.Enricher.NavigationTimeout <= 0 || c.Enricher.DescriptionTimeout <= 0 {
		return fmt.Errorf("enricher.navigation_timeout and enricher.description_timeout must be > 0")
	}
	if c.Enricher.DomainQPS < 0 {
		return fmt.Errorf("enricher.domain_qps must be >= 0")
	}
	switch c.Export.Backend {
	case "", ExportNone:
	case ExportLocal:
		if c.Export.LocalDir == "" {
			return fmt.Errorf("export.local_dir must be set when export.backend is local")
		}
	case ExportGCS:
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket must be set when export.backend is gcs")
		}
	default:
		return fmt.Errorf("export.backend must be one of none, local, gcs; got %q", c.Export.Backend)
	}
	if c.Export.PubSubTopic != "" && c.Export.PubSubProject == "" {
		return fmt.Errorf("export.pubsub_project must be set when export.pubsub_topic is set")
	}
	if err := sites.Registry(c.Sites).Validate(); err != nil {
		return fmt.Errorf("sites: %w", err)
	}
	return nil
}

// Registry returns the configured sites as a registry.
func (c Config) Registry() sites.Registry {
	return sites.Registry(c.Sites)
}
