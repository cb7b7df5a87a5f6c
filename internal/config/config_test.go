package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/webwords/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "webwords/1.0", cfg.Crawler.UserAgent)
	assert.Equal(t, 3, cfg.Crawler.MaxDepth)
	assert.Equal(t, 8, cfg.Crawler.Workers)
	assert.Equal(t, time.Second, cfg.Crawler.RateLimitDelay)
	assert.Equal(t, 30*time.Second, cfg.Crawler.FetchTimeout)
	assert.Equal(t, 100, cfg.Crawler.MaxConnections)
	assert.Equal(t, 10, cfg.Crawler.MaxConnectionsPerHost)
	assert.Equal(t, 5*time.Minute, cfg.Crawler.DNSCacheTTL)
	assert.True(t, cfg.Crawler.DenyPrivateIPs)
	assert.Empty(t, cfg.Crawler.AllowedDomains)
	assert.Empty(t, cfg.Crawler.BlockedDomains)

	assert.Equal(t, int64(10<<20), cfg.Content.MaxBodySize)
	assert.Zero(t, cfg.Content.MinTextLength)
	assert.Equal(t, 2, cfg.Content.MinWordLength)
	assert.Equal(t, 45, cfg.Content.MaxWordLength)

	assert.Equal(t, config.BackendMemory, cfg.Queue.Backend)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Queue.LeaseDuration)
	assert.Equal(t, 24*time.Hour, cfg.Queue.Retention)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  user_agent: custom-bot/2.0
  workers: 4
  max_depth: 1
queue:
  backend: postgres
  max_retries: 5
database:
  host: db.internal
  name: crawls
logging:
  level: debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-bot/2.0", cfg.Crawler.UserAgent)
	assert.Equal(t, 4, cfg.Crawler.Workers)
	assert.Equal(t, 1, cfg.Crawler.MaxDepth)
	assert.Equal(t, config.BackendPostgres, cfg.Queue.Backend)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "crawls", cfg.Database.Name)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1000, cfg.Crawler.MaxPages)
	assert.Equal(t, "5432", cfg.Database.Port)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crawler:
  worker_count: 4
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "env-host")
	t.Setenv("DB_PASSWORD", "sekret")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("QUEUE_BACKEND", "postgres")
	t.Setenv("CRAWLER_WORKERS", "16")
	t.Setenv("CRAWLER_MAX_PAGES", "50")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, "sekret", cfg.Database.Password)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, config.BackendPostgres, cfg.Queue.Backend)
	assert.Equal(t, 16, cfg.Crawler.Workers)
	assert.Equal(t, 50, cfg.Crawler.MaxPages)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *config.Config {
		cfg, err := config.Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(*config.Config) {},
			wantErr: "",
		},
		{
			name:    "zero workers",
			mutate:  func(c *config.Config) { c.Crawler.Workers = 0 },
			wantErr: "workers must be at least 1",
		},
		{
			name:    "negative depth",
			mutate:  func(c *config.Config) { c.Crawler.MaxDepth = -1 },
			wantErr: "max_depth cannot be negative",
		},
		{
			name:    "negative connection limit",
			mutate:  func(c *config.Config) { c.Crawler.MaxConnectionsPerHost = -1 },
			wantErr: "connection limits cannot be negative",
		},
		{
			name:    "blank user agent",
			mutate:  func(c *config.Config) { c.Crawler.UserAgent = "   " },
			wantErr: "user_agent cannot be empty",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *config.Config) { c.Queue.Backend = "redis" },
			wantErr: `unknown backend "redis"`,
		},
		{
			name:    "zero lease duration",
			mutate:  func(c *config.Config) { c.Queue.LeaseDuration = 0 },
			wantErr: "lease_duration must be positive",
		},
		{
			name: "postgres backend requires host",
			mutate: func(c *config.Config) {
				c.Queue.Backend = config.BackendPostgres
				c.Database.Host = ""
			},
			wantErr: "host cannot be empty",
		},
		{
			name: "memory backend ignores database settings",
			mutate: func(c *config.Config) {
				c.Database.Host = ""
				c.Database.Name = ""
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConnection(t *testing.T) {
	t.Parallel()

	d := config.Database{
		Host:            "db.internal",
		Port:            "5433",
		User:            "crawler",
		Password:        "pw",
		Name:            "crawls",
		SSLMode:         "require",
		MaxOpenConns:    40,
		MaxIdleConns:    8,
		ConnMaxLifetime: 10 * time.Minute,
	}

	conn := d.Connection()
	assert.Equal(t, "db.internal", conn.Host)
	assert.Equal(t, "5433", conn.Port)
	assert.Equal(t, "crawler", conn.User)
	assert.Equal(t, "pw", conn.Password)
	assert.Equal(t, "crawls", conn.DBName)
	assert.Equal(t, "require", conn.SSLMode)
	assert.Equal(t, 40, conn.MaxOpenConns)
	assert.Equal(t, 8, conn.MaxIdleConns)
	assert.Equal(t, 10*time.Minute, conn.ConnMaxLifetime)
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}
