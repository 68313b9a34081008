// Package config loads and validates crawlgrep configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Fetch engines.
const (
	EngineHTTP     = "http"
	EngineColly    = "colly"
	EngineHeadless = "headless"
	// EngineAuto probes with http and re-renders application shells headless.
	EngineAuto = "auto"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Extract ExtractConfig `mapstructure:"extract"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig sizes the shared structures and the worker pool.
type CrawlerConfig struct {
	Workers          int           `mapstructure:"workers"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	VisitedBuckets   int           `mapstructure:"visited_buckets"`
	VisitedHash      string        `mapstructure:"visited_hash"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	StopOnFirstMatch bool          `mapstructure:"stop_on_first_match"`
	RateLimitPerHost float64       `mapstructure:"rate_limit_per_host"`
	RateLimitBurst   int           `mapstructure:"rate_limit_burst"`
}

// FetchConfig selects and tunes the fetch engine.
type FetchConfig struct {
	Engine              string        `mapstructure:"engine"`
	UserAgent           string        `mapstructure:"user_agent"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxBodyBytes        int           `mapstructure:"max_body_bytes"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	FollowRedirects     bool          `mapstructure:"follow_redirects"`
	HeadlessMaxParallel int           `mapstructure:"headless_max_parallel"`
	PromotionMinBody    int           `mapstructure:"promotion_min_body"`
}

// ExtractConfig selects the text extractor.
type ExtractConfig struct {
	Mode string `mapstructure:"mode"`
}

// NotifyConfig holds Pub/Sub match notification settings. Both empty
// disables notification.
type NotifyConfig struct {
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"workers":             "crawler.workers",
	"queue-capacity":      "crawler.queue_capacity",
	"stop-on-first-match": "crawler.stop_on_first_match",
	"engine":              "fetch.engine",
	"metrics-addr":        "metrics.addr",
	"dev-logs":            "logging.development",
}

// Load builds a Config from defaults, an optional file, the environment and
// any changed flags, in increasing order of precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLGREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

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
	v.SetDefault("crawler.workers", 8)
	v.SetDefault("crawler.queue_capacity", 16384)
	v.SetDefault("crawler.visited_buckets", 1013)
	v.SetDefault("crawler.visited_hash", "djb2")
	v.SetDefault("crawler.backoff_initial", time.Millisecond)
	v.SetDefault("crawler.backoff_max", 5*time.Second)
	v.SetDefault("crawler.stop_on_first_match", false)
	v.SetDefault("crawler.rate_limit_per_host", 0.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("fetch.engine", EngineHTTP)
	v.SetDefault("fetch.user_agent", "libcurl-agent/1.0")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.follow_redirects", false)
	v.SetDefault("fetch.headless_max_parallel", 2)
	v.SetDefault("fetch.promotion_min_body", 2048)
	v.SetDefault("extract.mode", "scan")
	v.SetDefault("notify.pubsub_project", "")
	v.SetDefault("notify.pubsub_topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueCapacity <= 0 {
		return fmt.Errorf("crawler.queue_capacity must be > 0")
	}
	if c.Crawler.VisitedBuckets <= 0 {
		return fmt.Errorf("crawler.visited_buckets must be > 0")
	}
	switch c.Crawler.VisitedHash {
	case "djb2", "xxhash":
	default:
		return fmt.Errorf("crawler.visited_hash must be djb2 or xxhash, got %q", c.Crawler.VisitedHash)
	}
	if c.Crawler.BackoffInitial <= 0 {
		return fmt.Errorf("crawler.backoff_initial must be > 0")
	}
	if c.Crawler.BackoffMax < c.Crawler.BackoffInitial {
		return fmt.Errorf("crawler.backoff_max must be >= crawler.backoff_initial")
	}
	if c.Crawler.RateLimitPerHost < 0 {
		return fmt.Errorf("crawler.rate_limit_per_host must be >= 0")
	}
	switch c.Fetch.Engine {
	case EngineHTTP, EngineColly:
	case EngineHeadless, EngineAuto:
		if c.Fetch.HeadlessMaxParallel <= 0 {
			return fmt.Errorf("fetch.headless_max_parallel must be > 0 when the %s engine is selected", c.Fetch.Engine)
		}
	default:
		return fmt.Errorf("fetch.engine must be http, colly, headless or auto, got %q", c.Fetch.Engine)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	switch c.Extract.Mode {
	case "scan", "tokenizer":
	default:
		return fmt.Errorf("extract.mode must be scan or tokenizer, got %q", c.Extract.Mode)
	}
	if (c.Notify.PubSubProject == "") != (c.Notify.PubSubTopic == "") {
		return fmt.Errorf("notify.pubsub_project and notify.pubsub_topic must be set together")
	}
	return nil
}

// NotifyEnabled reports whether matches are published.
func (c Config) NotifyEnabled() bool {
	return c.Notify.PubSubTopic != ""
}
