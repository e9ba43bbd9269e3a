// Package config loads and validates spider service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Spider  SpiderConfig  `mapstructure:"spider"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Render  RenderConfig  `mapstructure:"render"`
	Sitemap SitemapConfig `mapstructure:"sitemap"`
	Search  SearchConfig  `mapstructure:"search"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Queue   QueueConfig   `mapstructure:"queue"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port               int `mapstructure:"port"`
	RequestTimeoutSec  int `mapstructure:"request_timeout_seconds"`
	StreamIntervalMsec int `mapstructure:"stream_interval_ms"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SpiderConfig governs crawl orchestration behavior.
type SpiderConfig struct {
	MaxConcurrency   int    `mapstructure:"max_concurrency"`
	PerDomainMax     int    `mapstructure:"per_domain_max"`
	PerIPMax         int    `mapstructure:"per_ip_max"`
	PageLimitDefault int    `mapstructure:"page_limit_default"`
	MaxDepthDefault  int    `mapstructure:"max_depth_default"`
	UserAgent        string `mapstructure:"user_agent"`
	IgnoreRobots     bool   `mapstructure:"ignore_robots"`
	Workers          int    `mapstructure:"workers"`
	// Proxies is the service-wide rotation pool applied to requests that do
	// not carry their own proxy_servers.
	Proxies []crawl.ProxyServer `mapstructure:"proxies"`
}

// HTTPConfig configures the plain HTTP fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	Concurrency    int `mapstructure:"concurrency"`
	DomainDelayMs  int `mapstructure:"domain_delay_ms"`
}

// RenderConfig configures the JS-rendering fallback, either a remote
// rendering service or in-process headless Chrome.
type RenderConfig struct {
	// Enabled turns on the in-process headless browser when no remote
	// service is configured.
	Enabled bool `mapstructure:"enabled"`
	// RemoteURL selects the remote rendering service when non-empty.
	RemoteURL             string  `mapstructure:"remote_url"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	MaxParallel           int     `mapstructure:"max_parallel"`
	DomainQPS             float64 `mapstructure:"domain_qps"`
	AcceptCookiesSelector string  `mapstructure:"accept_cookies_selector"`
	Locale                string  `mapstructure:"locale"`
	BlockMedia            bool    `mapstructure:"block_media"`
	// ExtraHeaders is forwarded verbatim to the rendering service.
	ExtraHeaders map[string]string `mapstructure:"extra_headers"`
}

// SitemapConfig bounds the sitemap discovery engine.
type SitemapConfig struct {
	MaxDepth        int `mapstructure:"max_depth"`
	PatternsPerPage int `mapstructure:"patterns_per_page"`
	MaxURLsDefault  int `mapstructure:"max_urls_default"`
	SearchPages     int `mapstructure:"search_pages"`
	FetchTimeoutSec int `mapstructure:"fetch_timeout_seconds"`
}

// SearchConfig holds credentials for the web search collaborator. Search
// fallback is disabled when the key is empty.
type SearchConfig struct {
	APIKey   string `mapstructure:"api_key"`
	EngineID string `mapstructure:"engine_id"`
	BaseURL  string `mapstructure:"base_url"`
}

// StorageConfig sets the blob backend for page attachments.
type StorageConfig struct {
	// GCSBucket selects Cloud Storage; empty means the in-memory store.
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// stores, which only make sense for development.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// QueueConfig selects the task queue backend.
type QueueConfig struct {
	// Backend is "memory" or "pubsub".
	Backend        string `mapstructure:"backend"`
	Depth          int    `mapstructure:"depth"`
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPIDER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.stream_interval_ms", 1000)
	v.SetDefault("logging.development", true)
	v.SetDefault("spider.max_concurrency", 8)
	v.SetDefault("spider.per_domain_max", 2)
	v.SetDefault("spider.per_ip_max", 2)
	v.SetDefault("spider.page_limit_default", 100)
	v.SetDefault("spider.max_depth_default", 3)
	v.SetDefault("spider.user_agent", "crawlkit-spider/1.0")
	v.SetDefault("spider.ignore_robots", false)
	v.SetDefault("spider.workers", 4)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.concurrency", 4)
	v.SetDefault("http.domain_delay_ms", 250)
	v.SetDefault("render.timeout_seconds", 60)
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("render.domain_qps", 1.0)
	v.SetDefault("render.block_media", true)
	v.SetDefault("sitemap.max_depth", 5)
	v.SetDefault("sitemap.patterns_per_page", 10)
	v.SetDefault("sitemap.max_urls_default", 5000)
	v.SetDefault("sitemap.search_pages", 5)
	v.SetDefault("sitemap.fetch_timeout_seconds", 30)
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 256)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Spider.MaxConcurrency <= 0 {
		return fmt.Errorf("spider.max_concurrency must be > 0")
	}
	if c.Spider.Workers <= 0 {
		return fmt.Errorf("spider.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Queue.Backend {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicID == "" || c.Queue.SubscriptionID == "" {
			return fmt.Errorf("queue.project_id, queue.topic_id, and queue.subscription_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("queue.backend must be memory or pubsub, got %q", c.Queue.Backend)
	}
	if c.Render.Enabled && c.Render.RemoteURL == "" && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when the in-process renderer is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Search.APIKey != "" && c.Search.EngineID == "" {
		return fmt.Errorf("search.engine_id must be set when search.api_key is set")
	}
	for i, p := range c.Spider.Proxies {
		switch p.Type {
		case crawl.ProxyHTTP, crawl.ProxySOCKS4, crawl.ProxySOCKS5:
		default:
			return fmt.Errorf("spider.proxies[%d].proxy_type must be http, socks4, or socks5, got %q", i, p.Type)
		}
		if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("spider.proxies[%d] must set host and a port in 1-65535", i)
		}
	}
	return nil
}

// RequestTimeout returns the handler budget as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// StreamInterval returns the SSE poll cadence as a duration.
func (c Config) StreamInterval() time.Duration {
	return time.Duration(c.Server.StreamIntervalMsec) * time.Millisecond
}

// FetchTimeout returns the HTTP fetcher budget as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
