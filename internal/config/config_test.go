package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "drawsync.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10000, cfg.Fetch.TimeoutMs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 1000, cfg.Fetch.InitialBackoffMs)
	assert.Equal(t, 10000, cfg.Fetch.MaxBackoffMs)
	assert.Equal(t, "drawsync/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL())
	assert.Empty(t, cfg.Sources.File)
	assert.True(t, cfg.Resolver.Coalesce)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/draws
log:
  level: debug
  format: console
server:
  port: 9090
fetch:
  timeout_ms: 2500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/draws", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2500*time.Millisecond, cfg.Fetch.Timeout())
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DRAWSYNC_STORE_DRIVER", "sqlite")
	t.Setenv("DRAWSYNC_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("DRAWSYNC_SERVER_PORT", "3000")
	t.Setenv("DRAWSYNC_CACHE_TTL_MINUTES", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL())
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestFetchRetry(t *testing.T) {
	t.Parallel()

	f := FetchConfig{MaxRetries: 3, InitialBackoffMs: 1000, MaxBackoffMs: 10000}
	r := f.Retry()
	assert.Equal(t, 3, r.MaxAttempts)
	assert.Equal(t, time.Second, r.InitialBackoff)
	assert.Equal(t, 10*time.Second, r.MaxBackoff)
	assert.Zero(t, r.JitterFraction)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "drawsync.db"
	cfg.Fetch.TimeoutMs = 10000
	cfg.Fetch.MaxRetries = 3
	cfg.Fetch.InitialBackoffMs = 1000
	cfg.Fetch.MaxBackoffMs = 10000
	cfg.Cache.TTLMinutes = 30
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mode: "resolve", mutate: func(*Config) {}},
		{name: "bad driver", mode: "resolve", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "store.driver"},
		{name: "missing dsn", mode: "resolve", mutate: func(c *Config) { c.Store.DatabaseURL = "" }, wantErr: "store.database_url is required"},
		{name: "zero timeout", mode: "resolve", mutate: func(c *Config) { c.Fetch.TimeoutMs = 0 }, wantErr: "fetch.timeout_ms"},
		{name: "backoff inverted", mode: "resolve", mutate: func(c *Config) { c.Fetch.MaxBackoffMs = 10 }, wantErr: "fetch.max_backoff_ms"},
		{name: "zero ttl", mode: "resolve", mutate: func(c *Config) { c.Cache.TTLMinutes = 0 }, wantErr: "cache.ttl_minutes"},
		{name: "port ignored outside serve", mode: "draws", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "invalid port", mode: "serve", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{
			name: "monitoring threshold",
			mode: "serve",
			mutate: func(c *Config) {
				c.Monitoring.Enabled = true
				c.Monitoring.CheckIntervalSecs = 60
				c.Monitoring.FailureRateThreshold = 1.5
			},
			wantErr: "monitoring.failure_rate_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate(tt.mode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := validDefaults()
	cfg.Store.Driver = ""
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "store.database_url is required")
}
