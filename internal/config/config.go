// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Blob      BlobConfig              `mapstructure:"blob"`
	PubSub    PubSubConfig            `mapstructure:"pubsub"`
	RateLimit RateLimitConfig         `mapstructure:"rate_limit"`
	Parser    ParserConfig            `mapstructure:"parser"`
	OpenAI    OpenAIConfig            `mapstructure:"openai"`
	Search    SearchConfig            `mapstructure:"search"`
	Watchdog  WatchdogConfig          `mapstructure:"watchdog"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BlobConfig selects and configures the artifact blob backend.
type BlobConfig struct {
	// Backend is one of "gcs", "local", "memory".
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for alert publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig governs the per-domain politeness limiter.
type RateLimitConfig struct {
	MinDelay       time.Duration `mapstructure:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	ErrorThreshold int           `mapstructure:"error_threshold"`
	CooldownPeriod time.Duration `mapstructure:"cooldown_period"`
}

// ParserConfig controls text extraction.
type ParserConfig struct {
	StripSelectors []string `mapstructure:"strip_selectors"`
}

// OpenAIConfig configures the embeddings client.
type OpenAIConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	QPS      float64       `mapstructure:"qps"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// SearchConfig sets semantic search defaults.
type SearchConfig struct {
	DefaultLimit    int     `mapstructure:"default_limit"`
	OverfetchFactor int     `mapstructure:"overfetch_factor"`
	MinSimilarity   float64 `mapstructure:"min_similarity"`
}

// WatchdogConfig governs endpoint health checks.
type WatchdogConfig struct {
	SLA                  time.Duration `mapstructure:"sla"`
	ErrorStreakThreshold int           `mapstructure:"error_streak_threshold"`
	Interval             time.Duration `mapstructure:"interval"`
}

// SourceConfig describes one sitemap-indexed discovery source.
type SourceConfig struct {
	IndexURL         string `mapstructure:"index_url"`
	URLPattern       string `mapstructure:"url_pattern"`
	DatePattern      string `mapstructure:"date_pattern"`
	DateFrom         string `mapstructure:"date_from"`
	DateTo           string `mapstructure:"date_to"`
	IncludeUndated   bool   `mapstructure:"include_undated"`
	MaxURLs          int    `mapstructure:"max_urls"`
	MaxChildFailures int    `mapstructure:"max_child_failures"`
	MaxDocBytes      int64  `mapstructure:"max_doc_bytes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGTRUTH")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("blob.backend", "local")
	v.SetDefault("blob.local_dir", "artifacts")
	v.SetDefault("rate_limit.min_delay", "1s")
	v.SetDefault("rate_limit.max_delay", "3s")
	v.SetDefault("rate_limit.error_threshold", 5)
	v.SetDefault("rate_limit.cooldown_period", "10m")
	v.SetDefault("openai.model", "text-embedding-3-small")
	v.SetDefault("openai.qps", 5)
	v.SetDefault("openai.cache_ttl", "15m")
	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.overfetch_factor", 2)
	v.SetDefault("search.min_similarity", 0.0)
	v.SetDefault("watchdog.sla", "26h")
	v.SetDefault("watchdog.error_streak_threshold", 3)
	v.SetDefault("watchdog.interval", "5m")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.RateLimit.MinDelay <= 0 || c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		return fmt.Errorf("rate_limit delays must satisfy 0 < min_delay <= max_delay")
	}
	if c.RateLimit.ErrorThreshold <= 0 {
		return fmt.Errorf("rate_limit.error_threshold must be > 0")
	}
	switch c.Blob.Backend {
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return fmt.Errorf("blob.gcs_bucket must be set when blob.backend is gcs")
		}
	case "local":
		if c.Blob.LocalDir == "" {
			return fmt.Errorf("blob.local_dir must be set when blob.backend is local")
		}
	case "memory":
	default:
		return fmt.Errorf("blob.backend must be one of gcs, local, memory")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Search.OverfetchFactor <= 0 {
		return fmt.Errorf("search.overfetch_factor must be > 0")
	}
	for name, src := range c.Sources {
		if src.IndexURL == "" {
			return fmt.Errorf("sources.%s.index_url is required", name)
		}
	}
	return nil
}
