package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/conductor/internal/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, filepath.Join(".conductor", "conductor.db"), cfg.Database.Path)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2, cfg.Queen.MaxParallelPerRole[models.WorkerRoleBackend])
	assert.Equal(t, 2, cfg.Queen.TaskRetryLimit)
	assert.Equal(t, 5, cfg.Queen.ZombieDetectionMinutes)
	assert.False(t, cfg.Queen.SimpleMode)
	assert.Equal(t, "claude", cfg.Worker.AgentBinaryName)
	assert.True(t, cfg.Console.EnableColor)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestNewAndLoad_NoFilePresent(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	v, err := New("")
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, Default().Database.Path, cfg.Database.Path)
}

func TestNewAndLoad_FromExplicitFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
database:
  path: custom.db
queen:
  task_retry_limit: 5
  max_parallel_per_role:
    backend: 4
log_level: debug
`), 0o644))

	v, err := New(cfgPath)
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "custom.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Queen.TaskRetryLimit)
	assert.Equal(t, 4, cfg.Queen.MaxParallelPerRole["backend"])
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNewAndLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("CONDUCTOR_LOG_LEVEL", "warn")

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "nonsense"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNegativeRoleCap(t *testing.T) {
	cfg := Default()
	cfg.Queen.MaxParallelPerRole["backend"] = -1
	assert.Error(t, cfg.Validate())
}
