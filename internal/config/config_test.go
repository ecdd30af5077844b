package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "docstore", cfg.Storage.Database)
	assert.Equal(t, 100, cfg.Storage.CleanupBatchSize)
	assert.False(t, cfg.Cleanup.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: pebble
  data_dir: /tmp/docs
  cleanup_batch_size: 25
cleanup:
  enabled: true
  interval: 30s
  min_deleted_age: 1h
logging:
  level: debug
  format: console
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPebble, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/docs", cfg.Storage.DataDir)
	assert.Equal(t, "docstore", cfg.Storage.Database)
	assert.Equal(t, 25, cfg.Storage.CleanupBatchSize)
	assert.True(t, cfg.Cleanup.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cleanup.Interval)
	assert.Equal(t, time.Hour, cfg.Cleanup.MinDeletedAge)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"unknown backend", "storage: {backend: redis}", "storage.backend"},
		{"negative batch", "storage: {cleanup_batch_size: -1}", "cleanup_batch_size"},
		{"negative age", "cleanup: {min_deleted_age: -1s}", "min_deleted_age"},
		{"bad level", "logging: {level: loud}", "logging.level"},
		{"bad format", "logging: {format: xml}", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	logger, err := cfg.NewLogger(false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = cfg.NewLogger(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
