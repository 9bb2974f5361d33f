// Package config loads and validates notifier configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Poller  PollerConfig  `mapstructure:"poller"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	SSE     SSEConfig     `mapstructure:"sse"`
	Logging LoggingConfig `mapstructure:"logging"`
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

// QueueConfig selects and parameterizes the grading event queue.
type QueueConfig struct {
	// Provider is "pubsub" or "memory".
	Provider       string `mapstructure:"provider"`
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// PollerConfig governs the queue polling loop.
type PollerConfig struct {
	IntervalMs  int `mapstructure:"interval_ms"`
	MaxMessages int `mapstructure:"max_messages"`
	WaitSeconds int `mapstructure:"wait_seconds"`
	MaxFailures int `mapstructure:"max_failures"`
}

// StorageConfig selects and parameterizes the signed-URL backend.
type StorageConfig struct {
	// Provider is "gcs" or "local".
	Provider       string `mapstructure:"provider"`
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	SignTTLMinutes int    `mapstructure:"sign_ttl_minutes"`
	// BaseURL roots the URLs minted by the local provider.
	BaseURL string `mapstructure:"base_url"`
}

// DBConfig controls access to the relational database. An empty DSN disables
// the exam catalog endpoints.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SSEConfig tunes the event stream transport.
type SSEConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTIFIER")
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
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("poller.interval_ms", 1000)
	v.SetDefault("poller.max_messages", 10)
	v.SetDefault("poller.wait_seconds", 5)
	v.SetDefault("poller.max_failures", 10)
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.prefix", "uploads")
	v.SetDefault("storage.sign_ttl_minutes", 10)
	v.SetDefault("storage.base_url", "http://localhost:8080/fake-storage")
	v.SetDefault("sse.buffer_size", 64)
	v.SetDefault("sse.heartbeat_seconds", 15)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Queue.Provider {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.SubscriptionID == "" {
			return fmt.Errorf("queue.project_id and queue.subscription_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("queue.provider must be one of memory, pubsub")
	}
	switch c.Storage.Provider {
	case "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider must be one of local, gcs")
	}
	if c.Poller.IntervalMs <= 0 {
		return fmt.Errorf("poller.interval_ms must be > 0")
	}
	if c.SSE.BufferSize <= 0 {
		return fmt.Errorf("sse.buffer_size must be > 0")
	}
	return nil
}

// PollInterval converts the poller interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalMs) * time.Millisecond
}

// PollWait converts the long-poll timeout into a duration.
func (c Config) PollWait() time.Duration {
	return time.Duration(c.Poller.WaitSeconds) * time.Second
}

// SignTTL converts the signed-URL lifetime into a duration.
func (c Config) SignTTL() time.Duration {
	return time.Duration(c.Storage.SignTTLMinutes) * time.Minute
}

// Heartbeat converts the stream keep-alive period into a duration.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.SSE.HeartbeatSeconds) * time.Second
}
