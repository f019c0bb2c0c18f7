package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "audit", cfg.Audit.Dir)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "snapshots", cfg.Snapshot.Dir)
	assert.InDelta(t, 2.0, cfg.RR.QueriesPerSecond, 0.001)
	assert.Equal(t, 1, cfg.RR.Burst)
	assert.Equal(t, 30, cfg.NHSBT.TimeoutSecs)
	assert.Equal(t, int64(201), cfg.NHSBT.SourceGroupID)
	assert.Equal(t, "nhsbt_staging", cfg.NHSBT.StagingTable)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.Empty(t, cfg.Radar.DatabaseURL)
	assert.Empty(t, cfg.Profile.Path)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
radar:
  database_url: postgres://radar@db/radar
ukrdc:
  database_url: postgres://ukrdc@db/ukrdc
rr:
  database_url: sqlserver://rr@registry/renalreg
  queries_per_second: 0.5
log:
  level: debug
  format: console
server:
  addr: ":9090"
audit:
  enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://radar@db/radar", cfg.Radar.DatabaseURL)
	assert.Equal(t, "postgres://ukrdc@db/ukrdc", cfg.UKRDC.DatabaseURL)
	assert.Equal(t, "sqlserver://rr@registry/renalreg", cfg.RR.DatabaseURL)
	assert.InDelta(t, 0.5, cfg.RR.QueriesPerSecond, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.False(t, cfg.Audit.Enabled)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1, cfg.RR.Burst)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
log:
  level: info
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("TIMELINE_LOG_LEVEL", "warn")
	t.Setenv("TIMELINE_RADAR_DATABASE_URL", "postgres://env@db/radar")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://env@db/radar", cfg.Radar.DatabaseURL)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "json"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
