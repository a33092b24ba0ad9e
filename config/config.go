package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

// Config holds all configuration for the feed service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Source    SourceConfig    `mapstructure:"source"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Ranking   RankingConfig   `mapstructure:"ranking"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// ServerConfig contains HTTP server and session cookie settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
	CookieMaxAge time.Duration `mapstructure:"cookie_max_age"`
	CanonicalWWW bool          `mapstructure:"canonical_www"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	if strings.TrimSpace(s.CookieName) == "" {
		return fmt.Errorf("server.cookie_name required")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// RedisConfig contains Redis connection settings. Redis carries snapshots between a
// separate poll process and serve processes; it is optional for a single process.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// SourceConfig describes the external content source client.
type SourceConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Retries         int           `mapstructure:"retries"`
	Backoff         time.Duration `mapstructure:"backoff"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Concurrency     int           `mapstructure:"concurrency"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

func (s SourceConfig) Validate() error {
	if strings.TrimSpace(s.BaseURL) == "" {
		return fmt.Errorf("source.base_url required")
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("source.concurrency must be > 0")
	}
	if s.Retries < 0 {
		return fmt.Errorf("source.retries cannot be negative")
	}
	return nil
}

// RefreshConfig controls the background snapshot refresher.
type RefreshConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Cron      string        `mapstructure:"cron"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	Bootstrap bool          `mapstructure:"bootstrap"`
}

func (r RefreshConfig) Validate() error {
	if strings.TrimSpace(r.Cron) != "" {
		if _, err := cronexpr.Parse(r.Cron); err != nil {
			return fmt.Errorf("refresh.cron invalid: %w", err)
		}
		return nil
	}
	if r.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be > 0 when refresh.cron is empty")
	}
	return nil
}

// RankingConfig bounds each ranking call.
type RankingConfig struct {
	MaxCandidates int `mapstructure:"max_candidates"`
	Dimensions    int `mapstructure:"dimensions"`
	PageSize      int `mapstructure:"page_size"`
}

func (r RankingConfig) Validate() error {
	if r.MaxCandidates <= 0 {
		return fmt.Errorf("ranking.max_candidates must be > 0")
	}
	if r.Dimensions <= 0 {
		return fmt.Errorf("ranking.dimensions must be > 0")
	}
	if r.PageSize <= 0 {
		return fmt.Errorf("ranking.page_size must be > 0")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

var envOnlyKeys = []string{
	"storage.postgres.url",
	"storage.postgres.host",
	"storage.postgres.user",
	"storage.postgres.password",
	"storage.postgres.dbname",
	"storage.redis.enabled",
	"storage.redis.host",
	"storage.redis.password",
	"storage.redis.db",
	"refresh.cron",
	"server.cookie_secure",
	"server.canonical_www",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.cookie_name", "token")
	v.SetDefault("server.cookie_max_age", 365*24*time.Hour)
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("source.base_url", "https://hacker-news.firebaseio.com/v0/")
	v.SetDefault("source.timeout", 15*time.Second)
	v.SetDefault("source.retries", 2)
	v.SetDefault("source.backoff", 300*time.Millisecond)
	v.SetDefault("source.rate_per_second", 20.0)
	v.SetDefault("source.concurrency", 8)
	v.SetDefault("source.breaker_failures", 5)
	v.SetDefault("source.breaker_timeout", 30*time.Second)
	v.SetDefault("refresh.interval", 5*time.Minute)
	v.SetDefault("refresh.lock_ttl", 2*time.Minute)
	v.SetDefault("refresh.bootstrap", true)
	v.SetDefault("ranking.max_candidates", 500)
	v.SetDefault("ranking.dimensions", 300)
	v.SetDefault("ranking.page_size", 30)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "snooze")
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	validators := []func() error{
		c.Server.Validate,
		c.Storage.Postgres.Validate,
		c.Storage.Redis.Validate,
		c.Source.Validate,
		c.Refresh.Validate,
		c.Ranking.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads config from path (or the default search paths) and the SNOOZE_* environment.
// A missing config file is not an error: defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SNOOZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// keys without defaults are only visible to Unmarshal when bound explicitly
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads config and panics on failure, for command entrypoints.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
