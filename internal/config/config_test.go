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

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://developer.nrel.gov/api/alt-fuel-stations/v1.json", cfg.Registry.BaseURL)
	assert.Equal(t, 1000, cfg.Registry.ChunkSize)
	assert.Equal(t, 100, cfg.Registry.ChunkPause)
	assert.Equal(t, 30, cfg.Census.TTLDays)
	assert.Equal(t, 100, cfg.Cycle.ZipChunkSize)
	assert.Equal(t, 200, cfg.Cycle.ZipChunkPauseMs)
	assert.Equal(t, 300, cfg.Cycle.WallClockCeiling)
	assert.InDelta(t, 0.5, cfg.Cycle.MinStagingRatio, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
  format: console
server:
  port: 9090
registry:
  chunk_size: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Registry.ChunkSize)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Registry.ChunkPause)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("EV_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("EV_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadBindsNamedSecrets(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("STATIONS_API_KEY", "stations-key")
	t.Setenv("POPULATION_API_KEY", "population-key")
	t.Setenv("DB_URL", "postgres://localhost/ev")
	t.Setenv("DB_SERVICE_ROLE_KEY", "service-role-key")
	t.Setenv("CRON_SECRET", "cron-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stations-key", cfg.Registry.APIKey)
	assert.Equal(t, "population-key", cfg.Census.APIKey)
	assert.Equal(t, "postgres://localhost/ev", cfg.Store.DatabaseURL)
	assert.Equal(t, "service-role-key", cfg.Store.ServiceRoleKey)
	assert.Equal(t, "cron-secret", cfg.Server.CronSecret)
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

func TestWallClockCeilingDuration(t *testing.T) {
	cfg := CycleConfig{WallClockCeiling: 45}
	assert.Equal(t, 45*1_000_000_000, int(cfg.WallClockCeilingDuration()))
}
