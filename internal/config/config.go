// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vinay10110/FinCompilance/internal/crawler"
)

// Storage backends selectable through db.driver, vector.driver and storage.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
	DriverNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Source    SourceConfig    `mapstructure:"source"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	DB        DBConfig        `mapstructure:"db"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig points the crawler at the regulator's listings.
type SourceConfig struct {
	BaseURL         string   `mapstructure:"base_url"`
	ScriptRoot      string   `mapstructure:"script_root"`
	PressReleaseURL string   `mapstructure:"press_release_url"`
	CircularURL     string   `mapstructure:"circular_url"`
	CategoryDelayMs int      `mapstructure:"category_delay_ms"`
	Categories      []string `mapstructure:"categories"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	UserAgent        string  `mapstructure:"user_agent"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// CrawlerConfig sizes the asynchronous ingestion worker pool.
type CrawlerConfig struct {
	Concurrency          int `mapstructure:"concurrency"`
	QueueDepth           int `mapstructure:"queue_depth"`
	IngestTimeoutSeconds int `mapstructure:"ingest_timeout_seconds"`
}

// IngestConfig tunes chunking and embedding fan-out.
type IngestConfig struct {
	ChunkSize        int    `mapstructure:"chunk_size"`
	ChunkOverlap     int    `mapstructure:"chunk_overlap"`
	EmbedBatchSize   int    `mapstructure:"embed_batch_size"`
	EmbedConcurrency int    `mapstructure:"embed_concurrency"`
	Archive          bool   `mapstructure:"archive"`
	ArchivePrefix    string `mapstructure:"archive_prefix"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// DBConfig selects the document store.
type DBConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
	Migrate    bool   `mapstructure:"migrate"`
}

// VectorConfig selects the chunk store; postgres shares db.dsn.
type VectorConfig struct {
	Driver     string `mapstructure:"driver"`
	Dimensions int    `mapstructure:"dimensions"`
}

// StorageConfig selects where downloaded documents are archived.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig lists notification channels for new records.
type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
	Log             bool   `mapstructure:"log"`
}

// PubSubConfig holds the Pub/Sub project and topics; an empty project disables publishing.
type PubSubConfig struct {
	ProjectID   string `mapstructure:"project_id"`
	TopicName   string `mapstructure:"topic_name"`
	IngestTopic string `mapstructure:"ingest_topic"`
}

// ScheduleConfig controls periodic crawling in serve mode.
type ScheduleConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Spec                string `mapstructure:"spec"`
	RunOnStart          bool   `mapstructure:"run_on_start"`
	CycleTimeoutSeconds int    `mapstructure:"cycle_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry span sampling.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from defaults, an optional file and FINCOMPLIANCE_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FINCOMPLIANCE")
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
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("source.base_url", "https://rbi.org.in")
	v.SetDefault("source.script_root", crawler.DefaultScriptRoot)
	v.SetDefault("source.press_release_url", "https://rbi.org.in/Scripts/BS_PressReleaseDisplay.aspx")
	v.SetDefault("source.circular_url", "https://rbi.org.in/Scripts/BS_ViewMasterCirculars.aspx")
	v.SetDefault("source.category_delay_ms", 2000)
	v.SetDefault("source.categories", []string{})
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.max_body_bytes", 50<<20)
	v.SetDefault("http.rate_limit_rps", 1.0)
	v.SetDefault("http.rate_limit_burst", 2)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.ingest_timeout_seconds", 600)
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.embed_batch_size", 32)
	v.SetDefault("ingest.embed_concurrency", 2)
	v.SetDefault("ingest.archive", false)
	v.SetDefault("ingest.archive_prefix", "documents")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.timeout_seconds", 60)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("db.driver", DriverMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.sqlite_path", "data/fincompliance.db")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.migrate", true)
	v.SetDefault("vector.driver", DriverMemory)
	v.SetDefault("vector.dimensions", 0)
	v.SetDefault("storage.driver", DriverNone)
	v.SetDefault("storage.local_dir", "data/archive")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("notify.slack_webhook_url", "")
	v.SetDefault("notify.log", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "fincompliance-documents")
	v.SetDefault("pubsub.ingest_topic", "")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.spec", "@every 5m")
	v.SetDefault("schedule.run_on_start", true)
	v.SetDefault("schedule.cycle_timeout_seconds", 900)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "fincompliance")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Source.BaseURL == "" || c.Source.PressReleaseURL == "" || c.Source.CircularURL == "" {
		return fmt.Errorf("source.base_url, source.press_release_url and source.circular_url are required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be >= 0 and smaller than ingest.chunk_size")
	}
	switch c.DB.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.DB.SQLitePath == "" {
			return fmt.Errorf("db.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("db.driver %q is not one of memory, sqlite, postgres", c.DB.Driver)
	}
	switch c.Vector.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres vector driver")
		}
	default:
		return fmt.Errorf("vector.driver %q is not one of memory, postgres", c.Vector.Driver)
	}
	switch c.Storage.Driver {
	case DriverNone, DriverMemory:
	case DriverLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local driver")
		}
	case DriverGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of none, memory, local, gcs", c.Storage.Driver)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name is required when pubsub.project_id is set")
	}
	return nil
}

// FetchTimeout is the per-attempt fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CategoryDelay is the politeness pause before each category fetch.
func (c Config) CategoryDelay() time.Duration {
	return time.Duration(c.Source.CategoryDelayMs) * time.Millisecond
}

// BackoffBounds returns the initial and maximum retry delays.
func (c Config) BackoffBounds() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// Seconds converts a whole-second setting into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
