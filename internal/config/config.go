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
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Search    SearchConfig    `mapstructure:"search"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SearchConfig describes the engine query sent for every entity.
type SearchConfig struct {
	EngineURL       string   `mapstructure:"engine_url"`
	Region          string   `mapstructure:"region"`
	Language        string   `mapstructure:"language"`
	ResultsPerPage  int      `mapstructure:"results_per_page"`
	AcceptLanguages []string `mapstructure:"accept_languages"`
}

// HeadlessConfig configures the browser session used per search.
type HeadlessConfig struct {
	NavTimeoutSec      int    `mapstructure:"nav_timeout_seconds"`
	SelectorTimeoutSec int    `mapstructure:"selector_timeout_seconds"`
	HumanDelayMinMs    int    `mapstructure:"human_delay_min_ms"`
	HumanDelayMaxMs    int    `mapstructure:"human_delay_max_ms"`
	ExecPath           string `mapstructure:"exec_path"`
	NoSandbox          bool   `mapstructure:"no_sandbox"`
}

// RateLimitConfig sets the global spacing between engine requests.
type RateLimitConfig struct {
	MinIntervalSec int `mapstructure:"min_interval_seconds"`
}

// RetryConfig sets the per-search attempt budget and waits.
type RetryConfig struct {
	MaxAttempts        int `mapstructure:"max_attempts"`
	CaptchaCooldownSec int `mapstructure:"captcha_cooldown_seconds"`
	EmptyCooldownSec   int `mapstructure:"empty_cooldown_seconds"`
	BackoffStepSec     int `mapstructure:"backoff_step_seconds"`
}

// SchedulerConfig controls recurring batch passes.
type SchedulerConfig struct {
	IntervalHours    float64 `mapstructure:"interval_hours"`
	Autostart        bool    `mapstructure:"autostart"`
	JitterMinMs      int     `mapstructure:"jitter_min_ms"`
	JitterMaxMs      int     `mapstructure:"jitter_max_ms"`
	BlockCooldownSec int     `mapstructure:"block_cooldown_seconds"`
}

// StorageConfig selects where SERP snapshots are archived.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	TraceProject string  `mapstructure:"trace_project_id"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Load builds a Config from disk/environment.
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

// setDefaults registers every key, including empty ones, so that
// AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("search.engine_url", "https://www.google.com/search")
	v.SetDefault("search.region", "id")
	v.SetDefault("search.language", "id")
	v.SetDefault("search.results_per_page", 15)
	v.SetDefault("search.accept_languages", []string{"id-ID", "id", "en-US", "en"})
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.selector_timeout_seconds", 8)
	v.SetDefault("headless.human_delay_min_ms", 2000)
	v.SetDefault("headless.human_delay_max_ms", 4000)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.no_sandbox", true)
	v.SetDefault("ratelimit.min_interval_seconds", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.captcha_cooldown_seconds", 30)
	v.SetDefault("retry.empty_cooldown_seconds", 15)
	v.SetDefault("retry.backoff_step_seconds", 10)
	v.SetDefault("scheduler.interval_hours", 2)
	v.SetDefault("scheduler.autostart", false)
	v.SetDefault("scheduler.jitter_min_ms", 5000)
	v.SetDefault("scheduler.jitter_max_ms", 10000)
	v.SetDefault("scheduler.block_cooldown_seconds", 120)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "serp")
	v.SetDefault("storage.local.base_dir", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("telemetry.service_name", "serpwatch")
	v.SetDefault("telemetry.trace_project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Search.EngineURL == "" {
		return fmt.Errorf("search.engine_url is required")
	}
	if c.Search.ResultsPerPage <= 0 {
		return fmt.Errorf("search.results_per_page must be > 0")
	}
	if c.Headless.NavTimeoutSec <= 0 || c.Headless.SelectorTimeoutSec <= 0 {
		return fmt.Errorf("headless timeouts must be > 0")
	}
	if c.Headless.HumanDelayMinMs < 0 || c.Headless.HumanDelayMinMs > c.Headless.HumanDelayMaxMs {
		return fmt.Errorf("headless.human_delay_min_ms must be between 0 and human_delay_max_ms")
	}
	if c.RateLimit.MinIntervalSec <= 0 {
		return fmt.Errorf("ratelimit.min_interval_seconds must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.CaptchaCooldownSec <= 0 || c.Retry.EmptyCooldownSec <= 0 || c.Retry.BackoffStepSec <= 0 {
		return fmt.Errorf("retry waits must be > 0")
	}
	if c.Scheduler.IntervalHours <= 0 {
		return fmt.Errorf("scheduler.interval_hours must be > 0")
	}
	if c.Scheduler.JitterMinMs < 0 || c.Scheduler.JitterMinMs > c.Scheduler.JitterMaxMs {
		return fmt.Errorf("scheduler.jitter_min_ms must be between 0 and jitter_max_ms")
	}
	if c.Scheduler.BlockCooldownSec < 0 {
		return fmt.Errorf("scheduler.block_cooldown_seconds must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// SchedulerInterval converts the configured hours into a duration.
func (c Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalHours * float64(time.Hour))
}

// Seconds converts a whole-second knob into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Millis converts a millisecond knob into a duration.
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
