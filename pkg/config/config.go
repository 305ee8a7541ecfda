// Package config provides YAML-based configuration loading for fifobus.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName is the logical name attached to every log line
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Pipes names the channels shared by the publish and ingest roles
	Pipes PipesConfig `mapstructure:"pipes"`

	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Attach     AttachConfig     `mapstructure:"attach"`
	Store      StoreConfig      `mapstructure:"store"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// PipesConfig locates the named channels. Claim and Diagnose are resolved
// relative to Dir unless absolute.
type PipesConfig struct {
	Dir      string `mapstructure:"dir"`
	Claim    string `mapstructure:"claim"`
	Diagnose string `mapstructure:"diagnose"`
}

// PublisherConfig tunes the publish role.
type PublisherConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// DuplicateProb is the chance a generated record reuses an issued id.
	DuplicateProb float64 `mapstructure:"duplicate_prob"`
	// Codec: json, cbor or proto
	Codec string `mapstructure:"codec"`
}

// SubscriberConfig tunes frame reads.
type SubscriberConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxFrameSize int           `mapstructure:"max_frame_size"`
}

// AttachConfig is the backoff used while waiting for a peer to open a channel.
type AttachConfig struct {
	BackoffInitialMS int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMS     int `mapstructure:"backoff_max_ms"`
	BackoffJitterMS  int `mapstructure:"backoff_jitter_ms"`
}

// StoreConfig configures the relational store. An empty DSN disables it.
type StoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	ConnectInterval time.Duration `mapstructure:"connect_interval"`
}

// AnalyticsConfig tunes the analytics role.
type AnalyticsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DedupConfig tunes the ingest-side duplicate filter.
type DedupConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Shards int           `mapstructure:"shards"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "fifobus",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/fifobus.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Pipes: PipesConfig{
			Dir:      ".",
			Claim:    "claim.pipe",
			Diagnose: "diagnose.pipe",
		},
		Publisher: PublisherConfig{
			Interval:      2 * time.Second,
			DuplicateProb: 0.1,
			Codec:         "json",
		},
		Subscriber: SubscriberConfig{
			PollInterval: 5 * time.Millisecond,
			MaxFrameSize: 16 << 20,
		},
		Attach:    AttachConfig{BackoffInitialMS: 50, BackoffMaxMS: 1000, BackoffJitterMS: 25},
		Store:     StoreConfig{MaxConns: 4, ConnectRetries: 3, ConnectInterval: 2 * time.Second},
		Analytics: AnalyticsConfig{Interval: 10 * time.Second},
		Dedup:     DedupConfig{TTL: 10 * time.Minute, Shards: 64},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix FIFOBUS and `.`/`-` are replaced with `_`.
// Example: FIFOBUS_PIPES_CLAIM=/tmp/claim.pipe
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FIFOBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("pipes.dir", cfg.Pipes.Dir)
	v.SetDefault("pipes.claim", cfg.Pipes.Claim)
	v.SetDefault("pipes.diagnose", cfg.Pipes.Diagnose)
	v.SetDefault("publisher.interval", cfg.Publisher.Interval)
	v.SetDefault("publisher.duplicate_prob", cfg.Publisher.DuplicateProb)
	v.SetDefault("publisher.codec", cfg.Publisher.Codec)
	v.SetDefault("subscriber.poll_interval", cfg.Subscriber.PollInterval)
	v.SetDefault("subscriber.max_frame_size", cfg.Subscriber.MaxFrameSize)
	v.SetDefault("attach.backoff_initial_ms", cfg.Attach.BackoffInitialMS)
	v.SetDefault("attach.backoff_max_ms", cfg.Attach.BackoffMaxMS)
	v.SetDefault("attach.backoff_jitter_ms", cfg.Attach.BackoffJitterMS)
	v.SetDefault("store.dsn", cfg.Store.DSN)
	v.SetDefault("store.max_conns", cfg.Store.MaxConns)
	v.SetDefault("store.connect_retries", cfg.Store.ConnectRetries)
	v.SetDefault("store.connect_interval", cfg.Store.ConnectInterval)
	v.SetDefault("analytics.interval", cfg.Analytics.Interval)
	v.SetDefault("dedup.ttl", cfg.Dedup.TTL)
	v.SetDefault("dedup.shards", cfg.Dedup.Shards)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("FIFOBUS_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `fifobus`
		v.SetConfigName("fifobus")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".fifobus"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.AppName) == "" {
		c.AppName = "fifobus"
	}

	c.Pipes.Claim = strings.TrimSpace(c.Pipes.Claim)
	c.Pipes.Diagnose = strings.TrimSpace(c.Pipes.Diagnose)
	if c.Pipes.Claim == "" || c.Pipes.Diagnose == "" {
		return errors.New("pipes.claim and pipes.diagnose are required")
	}
	if c.Pipes.Claim == c.Pipes.Diagnose {
		return fmt.Errorf("pipes.claim and pipes.diagnose must differ, both are %q", c.Pipes.Claim)
	}

	if c.Publisher.Interval <= 0 {
		return fmt.Errorf("invalid publisher.interval: %s", c.Publisher.Interval)
	}
	if c.Publisher.DuplicateProb < 0 || c.Publisher.DuplicateProb > 1 {
		return fmt.Errorf("invalid publisher.duplicate_prob: %v (want 0..1)", c.Publisher.DuplicateProb)
	}
	c.Publisher.Codec = strings.ToLower(strings.TrimSpace(c.Publisher.Codec))
	if c.Publisher.Codec == "" {
		c.Publisher.Codec = "json"
	}
	if c.Subscriber.MaxFrameSize <= 0 {
		return fmt.Errorf("invalid subscriber.max_frame_size: %d", c.Subscriber.MaxFrameSize)
	}
	if c.Analytics.Interval <= 0 {
		return fmt.Errorf("invalid analytics.interval: %s", c.Analytics.Interval)
	}
	if c.Attach.BackoffMaxMS < c.Attach.BackoffInitialMS {
		c.Attach.BackoffMaxMS = c.Attach.BackoffInitialMS
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
