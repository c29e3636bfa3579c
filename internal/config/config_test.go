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
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "takeoff.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8, cfg.Normalize.Workers)
	assert.InDelta(t, 1.5, cfg.Spatial.Radius, 0.001)
	assert.InDelta(t, 1.0, cfg.Health.MinDiagonal, 0.001)
	assert.InDelta(t, 5000.0, cfg.Health.MaxDiagonal, 0.001)
	assert.InDelta(t, 2.4, cfg.Match.HeightDefault, 0.001)
	assert.InDelta(t, 0.8, cfg.Match.TierHigh, 0.001)
	assert.Equal(t, 5, cfg.Match.TopN)
	assert.False(t, cfg.Match.AutoApprove)
	assert.Equal(t, 2*time.Second, cfg.Learning.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Learning.ResetTimeout)
	assert.InDelta(t, 50.0, cfg.Diagnostics.Area, 0.001)
	assert.False(t, cfg.Semantic.Enabled())
	assert.InDelta(t, 2.0, cfg.Extract.RateLimit, 0.001)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.BlockedRateThreshold, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/takeoff
log:
  level: debug
  format: console
match:
  height_default: 3.0
  auto_approve: true
learning:
  timeout: 500ms
semantic:
  url: http://scorer.local
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 3.0, cfg.Match.HeightDefault, 0.001)
	assert.True(t, cfg.Match.AutoApprove)
	assert.Equal(t, 500*time.Millisecond, cfg.Learning.Timeout)
	assert.True(t, cfg.Semantic.Enabled())
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Match.TopN)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TAKEOFF_STORE_DRIVER", "postgres")
	t.Setenv("TAKEOFF_LOG_LEVEL", "warn")
	t.Setenv("TAKEOFF_MATCH_TIER_HIGH", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 0.9, cfg.Match.TierHigh, 0.001)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
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

func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults run", mode: "run"},
		{name: "defaults serve", mode: "serve"},
		{name: "unknown mode", mode: "deploy", wantErr: "unknown mode"},
		{name: "bad port", mode: "serve", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "bad driver", mode: "run", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "store.driver"},
		{name: "health ignores store", mode: "health", mutate: func(c *Config) { c.Store.Driver = "mysql" }},
		{name: "missing url", mode: "migrate", mutate: func(c *Config) { c.Store.DatabaseURL = "" }, wantErr: "database_url"},
		{name: "inverted tiers", mode: "run", mutate: func(c *Config) { c.Match.TierMedium = 0.9 }, wantErr: "tier_medium"},
		{name: "scorer weight", mode: "run", mutate: func(c *Config) { c.Match.ScorerWeight = 1.5 }, wantErr: "scorer_weight"},
		{name: "bad unit", mode: "run", mutate: func(c *Config) { c.Normalize.Unit = "yd" }, wantErr: "normalize.unit"},
		{name: "negative radius", mode: "run", mutate: func(c *Config) { c.Spatial.Radius = -1 }, wantErr: "spatial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults(t)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
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
