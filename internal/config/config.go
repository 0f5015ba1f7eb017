package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WEAVER_DB_PATH
const EnvPrefix = "WEAVER"

// Config holds all runtime configuration parameters
type Config struct {
	DBPath      string `mapstructure:"db_path"`
	MetricsPath string `mapstructure:"metrics_path"`
	ListenAddr  string `mapstructure:"listen_addr"`
	AdminToken  string `mapstructure:"admin_token"`

	FollowSources        []string `mapstructure:"follow_sources"`
	ConcurrentWorkers    int      `mapstructure:"concurrent_workers"`
	RequestTimeoutMs     int      `mapstructure:"request_timeout_ms"`
	BuildTimeoutMs       int      `mapstructure:"build_timeout_ms"`
	RetryAttempts        int      `mapstructure:"retry_attempts"`
	RetryDelayMs         int      `mapstructure:"retry_delay_ms"`
	MaxFollowsPerAccount int      `mapstructure:"max_follows_per_account"`
	CountLeafFollows     bool     `mapstructure:"count_leaf_follows"`
	SourceRPS            float64  `mapstructure:"source_rps"`
	BreakerMaxFailures   int      `mapstructure:"breaker_max_failures"`
	BreakerCooldownMs    int      `mapstructure:"breaker_cooldown_ms"`

	RedisAddr        string `mapstructure:"redis_addr"`
	RedisPassword    string `mapstructure:"redis_password"`
	RedisDB          int    `mapstructure:"redis_db"`
	FollowCacheTTLMs int    `mapstructure:"follow_cache_ttl_ms"`

	ProgressIntervalMs int     `mapstructure:"progress_interval_ms"`
	TrustRPS           float64 `mapstructure:"trust_rps"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// LoadConfig reads configuration from a JSON file, then applies WEAVER_* environment
// overrides. A missing file is not an error; defaults and environment are used instead.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if errors.Is(err, os.ErrNotExist) {
			logrus.Warnf("Config file %s not found, using defaults and environment", path)
		} else {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already populated Viper instance
func LoadFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so environment overrides are picked up by Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "weaver.db")
	v.SetDefault("metrics_path", "metrics.log")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("admin_token", "")

	v.SetDefault("follow_sources", []string{})
	v.SetDefault("concurrent_workers", 8)
	v.SetDefault("request_timeout_ms", 5000)
	v.SetDefault("build_timeout_ms", 600000)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_delay_ms", 500)
	v.SetDefault("max_follows_per_account", 0)
	v.SetDefault("count_leaf_follows", false)
	v.SetDefault("source_rps", 20.0)
	v.SetDefault("breaker_max_failures", 10)
	v.SetDefault("breaker_cooldown_ms", 30000)

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("follow_cache_ttl_ms", 3600000)

	v.SetDefault("progress_interval_ms", 10000)
	v.SetDefault("trust_rps", 50.0)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// normalize trims list values coming from env strings or JSON
func normalize(cfg *Config) {
	sources := make([]string, 0, len(cfg.FollowSources))
	for _, raw := range cfg.FollowSources {
		for _, part := range strings.Split(raw, ",") {
			if s := strings.TrimRight(strings.TrimSpace(part), "/"); s != "" {
				sources = append(sources, s)
			}
		}
	}
	cfg.FollowSources = sources
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if cfg.ConcurrentWorkers < 1 {
		return fmt.Errorf("concurrent_workers must be >= 1")
	}
	if cfg.RequestTimeoutMs < 100 {
		return fmt.Errorf("request_timeout_ms must be >= 100")
	}
	if cfg.BuildTimeoutMs < cfg.RequestTimeoutMs {
		return fmt.Errorf("build_timeout_ms must be >= request_timeout_ms")
	}
	if cfg.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1")
	}
	if cfg.RetryDelayMs < 0 {
		return fmt.Errorf("retry_delay_ms must be >= 0")
	}
	if cfg.MaxFollowsPerAccount < 0 {
		return fmt.Errorf("max_follows_per_account must be >= 0")
	}
	if cfg.SourceRPS < 0 || cfg.TrustRPS < 0 {
		return fmt.Errorf("source_rps and trust_rps must be >= 0")
	}
	if cfg.BreakerMaxFailures < 1 {
		return fmt.Errorf("breaker_max_failures must be >= 1")
	}
	if cfg.ProgressIntervalMs < 100 {
		return fmt.Errorf("progress_interval_ms must be >= 100")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json")
	}
	return nil
}

// RequestTimeout is the per-fetch timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// BuildTimeout is the overall crawl deadline
func (c *Config) BuildTimeout() time.Duration {
	return time.Duration(c.BuildTimeoutMs) * time.Millisecond
}

// RetryDelay is the initial backoff between fetch attempts
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// BreakerCooldown is how long an endpoint's circuit stays open
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownMs) * time.Millisecond
}

// FollowCacheTTL is the lifetime of cached follow lists
func (c *Config) FollowCacheTTL() time.Duration {
	return time.Duration(c.FollowCacheTTLMs) * time.Millisecond
}

// ProgressInterval is the period of crawl progress log lines
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}

// ConfigureLogging applies log_level and log_format to the global logrus logger
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
