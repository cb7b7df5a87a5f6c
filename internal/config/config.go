// Package config loads and validates crawler configuration from YAML
// files and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonesrussell/webwords/internal/database"
)

// Queue backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Crawler  Crawler  `mapstructure:"crawler"`
	Content  Content  `mapstructure:"content"`
	Queue    Queue    `mapstructure:"queue"`
	Database Database `mapstructure:"database"`
	Logging  Logging  `mapstructure:"logging"`
}

// Crawler holds fetch and session policy.
type Crawler struct {
	UserAgent             string        `mapstructure:"user_agent"`
	MaxDepth              int           `mapstructure:"max_depth"`
	MaxPages              int           `mapstructure:"max_pages"`
	MaxURLs               int           `mapstructure:"max_urls"`
	Workers               int           `mapstructure:"workers"`
	RateLimitDelay        time.Duration `mapstructure:"rate_limit_delay"`
	FetchTimeout          time.Duration `mapstructure:"fetch_timeout"`
	MaxRedirects          int           `mapstructure:"max_redirects"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxConnectionsPerHost int           `mapstructure:"max_connections_per_host"`
	DNSCacheTTL           time.Duration `mapstructure:"dns_cache_ttl"`
	RobotsCacheTTL        time.Duration `mapstructure:"robots_cache_ttl"`
	MetricsInterval       time.Duration `mapstructure:"metrics_interval"`
	DrainTimeout          time.Duration `mapstructure:"drain_timeout"`
	DenyPrivateIPs        bool          `mapstructure:"deny_private_ips"`
	AllowedDomains        []string      `mapstructure:"allowed_domains"`
	BlockedDomains        []string      `mapstructure:"blocked_domains"`
}

// Content holds extraction and analysis policy.
type Content struct {
	MaxBodySize   int64    `mapstructure:"max_body_size"`
	ExtraTypes    []string `mapstructure:"extra_content_types"`
	MinTextLength int      `mapstructure:"min_text_length"`
	MinWordLength int      `mapstructure:"min_word_length"`
	MaxWordLength int      `mapstructure:"max_word_length"`
	MaxWords      int      `mapstructure:"max_words"`
	StopWords     []string `mapstructure:"stop_words"`
}

// Queue holds queue backend selection and retry policy.
type Queue struct {
	Backend          string        `mapstructure:"backend"`
	MaxRetries       int           `mapstructure:"max_retries"`
	LeaseDuration    time.Duration `mapstructure:"lease_duration"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
	Retention        time.Duration `mapstructure:"retention"`
	DedupCapacity    uint          `mapstructure:"dedup_capacity"`
}

// Database holds PostgreSQL connection parameters.
type Database struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Logging holds logger settings.
type Logging struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from an optional YAML file, applies defaults,
// and overlays environment variables. Unknown keys in the file are
// rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults applies default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.user_agent", "webwords/1.0")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 1000)
	v.SetDefault("crawler.max_urls", 100000)
	v.SetDefault("crawler.workers", 8)
	v.SetDefault("crawler.rate_limit_delay", "1s")
	v.SetDefault("crawler.fetch_timeout", "30s")
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.max_connections", 100)
	v.SetDefault("crawler.max_connections_per_host", 10)
	v.SetDefault("crawler.dns_cache_ttl", "5m")
	v.SetDefault("crawler.robots_cache_ttl", "1h")
	v.SetDefault("crawler.metrics_interval", "10s")
	v.SetDefault("crawler.drain_timeout", "30s")
	v.SetDefault("crawler.deny_private_ips", true)

	v.SetDefault("content.max_body_size", 10<<20)
	v.SetDefault("content.min_text_length", 0)
	v.SetDefault("content.min_word_length", 2)
	v.SetDefault("content.max_word_length", 45)
	v.SetDefault("content.max_words", 0)

	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.lease_duration", "2m")
	v.SetDefault("queue.recovery_interval", "1m")
	v.SetDefault("queue.retention", "24h")
	v.SetDefault("queue.dedup_capacity", 100000)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "webwords")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("logging.development", false)
}

// bindEnv maps environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	envKeys := map[string]string{
		"database.host":      "DB_HOST",
		"database.port":      "DB_PORT",
		"database.user":      "DB_USER",
		"database.password":  "DB_PASSWORD",
		"database.name":      "DB_NAME",
		"database.sslmode":   "DB_SSLMODE",
		"logging.level":      "LOG_LEVEL",
		"queue.backend":      "QUEUE_BACKEND",
		"crawler.user_agent": "CRAWLER_USER_AGENT",
		"crawler.workers":    "CRAWLER_WORKERS",
		"crawler.max_depth":  "CRAWLER_MAX_DEPTH",
		"crawler.max_pages":  "CRAWLER_MAX_PAGES",
	}
	for key, env := range envKeys {
		_ = v.BindEnv(key, env)
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Crawler.Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if c.Queue.Backend == BackendPostgres {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// Validate checks crawler policy bounds.
func (c *Crawler) Validate() error {
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.MaxDepth < 0 {
		return errors.New("max_depth cannot be negative")
	}
	if c.RateLimitDelay < 0 {
		return errors.New("rate_limit_delay cannot be negative")
	}
	if c.MaxConnections < 0 || c.MaxConnectionsPerHost < 0 {
		return errors.New("connection limits cannot be negative")
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		return errors.New("user_agent cannot be empty")
	}
	return nil
}

// Validate checks queue policy bounds.
func (q *Queue) Validate() error {
	switch q.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown backend %q", q.Backend)
	}
	if q.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if q.LeaseDuration <= 0 {
		return errors.New("lease_duration must be positive")
	}
	return nil
}

// Validate checks database connection parameters.
func (d *Database) Validate() error {
	if d.Host == "" {
		return errors.New("host cannot be empty")
	}
	if d.Name == "" {
		return errors.New("name cannot be empty")
	}
	return nil
}

// Connection converts to the database package's connection config.
func (d *Database) Connection() database.Config {
	return database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		DBName:          d.Name,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}
