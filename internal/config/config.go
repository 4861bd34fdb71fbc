package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/drawsync/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures outbound HTTP.
type FetchConfig struct {
	TimeoutMs        int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	HostRate         float64 `yaml:"host_rate" mapstructure:"host_rate"`
}

// Timeout is the per-attempt fetch deadline.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutMs) * time.Millisecond
}

// Retry builds the backoff schedule. Backoff doubles from the initial value
// and never jitters.
func (f FetchConfig) Retry() resilience.RetryConfig {
	return resilience.FromRetryConfig(f.MaxRetries, f.InitialBackoffMs, f.MaxBackoffMs, 2.0, 0)
}

// CacheConfig configures the in-memory draw cache.
type CacheConfig struct {
	TTLMinutes int `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// TTL is the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// SourcesConfig points at an optional YAML/JSON source catalogue. Empty
// means the built-in sources.
type SourcesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// ResolverConfig configures draw resolution.
type ResolverConfig struct {
	Coalesce            bool `yaml:"coalesce" mapstructure:"coalesce"`
	BackfillConcurrency int  `yaml:"backfill_concurrency" mapstructure:"backfill_concurrency"`
}

// MonitoringConfig configures the health checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinRunsForAlert      int     `yaml:"min_runs_for_alert" mapstructure:"min_runs_for_alert"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	ShutdownSecs    int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutS int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DRAWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "drawsync.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_secs", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("fetch.timeout_ms", 10000)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.initial_backoff_ms", 1000)
	v.SetDefault("fetch.max_backoff_ms", 10000)
	v.SetDefault("fetch.user_agent", "drawsync/1.0")
	v.SetDefault("fetch.host_rate", 20.0)
	v.SetDefault("cache.ttl_minutes", 30)
	v.SetDefault("sources.file", "")
	v.SetDefault("resolver.coalesce", true)
	v.SetDefault("resolver.backfill_concurrency", 2)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_runs_for_alert", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is the cobra command
// name; "serve" additionally checks the server block.
func (c *Config) Validate(mode string) error {
	var errs []error

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, errors.New("store.database_url is required"))
	}
	if c.Fetch.TimeoutMs <= 0 {
		errs = append(errs, errors.New("fetch.timeout_ms must be positive"))
	}
	if c.Fetch.MaxRetries <= 0 {
		errs = append(errs, errors.New("fetch.max_retries must be at least 1"))
	}
	if c.Fetch.InitialBackoffMs < 0 || c.Fetch.MaxBackoffMs < c.Fetch.InitialBackoffMs {
		errs = append(errs, errors.New("fetch.max_backoff_ms must be >= fetch.initial_backoff_ms >= 0"))
	}
	if c.Cache.TTLMinutes <= 0 {
		errs = append(errs, errors.New("cache.ttl_minutes must be positive"))
	}
	if c.Monitoring.Enabled {
		if c.Monitoring.CheckIntervalSecs <= 0 {
			errs = append(errs, errors.New("monitoring.check_interval_secs must be positive"))
		}
		if t := c.Monitoring.FailureRateThreshold; t <= 0 || t > 1 {
			errs = append(errs, errors.New("monitoring.failure_rate_threshold must be in (0, 1]"))
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.Join(errs...), "config: validate")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
