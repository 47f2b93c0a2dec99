package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	MaxConcurrency      int           `envconfig:"MAX_CONCURRENCY" default:"3"`
	MaxRedirects        int           `envconfig:"MAX_REDIRECTS" default:"5"`
	CacheTTL            time.Duration `envconfig:"CACHE_TTL" default:"24h"`
	CacheBucketURL      string        `envconfig:"CACHE_BUCKET_URL" default:"file:///var/cache/fileloader"`
	DBPath              string        `envconfig:"DB_PATH" default:"fileloader.db"`
	LogLevel            string        `envconfig:"LOG_LEVEL" default:"INFO"`
	RequestTimeout      time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	MaxBodySize         int64         `envconfig:"MAX_BODY_SIZE" default:"0"`
	ReachabilityAddr    string        `envconfig:"REACHABILITY_ADDR"`
	ReachabilityTimeout time.Duration `envconfig:"REACHABILITY_TIMEOUT" default:"2s"`
	CoalesceDuplicates  bool          `envconfig:"COALESCE_DUPLICATES" default:"true"`
	Retention           time.Duration `envconfig:"RETENTION" default:"0"`
	CleanupInterval     time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	DiscordWebhookURL   string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"5m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"fileloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", cfg.MaxConcurrency)
	}

	if cfg.MaxRedirects < 0 {
		return nil, fmt.Errorf("MAX_REDIRECTS must not be negative, got %d", cfg.MaxRedirects)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
