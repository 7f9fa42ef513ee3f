package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Empty(t, cfg.Gateway.ID)
	assert.True(t, cfg.Gateway.WatchRules)
	assert.Nil(t, cfg.Gateway.TableSchema)

	assert.Equal(t, "4MiB", cfg.Buffer.MaxBytes)
	assert.Equal(t, "30s", cfg.Buffer.MaxAge)
	assert.Equal(t, "0", cfg.Buffer.BackpressureBytes)
	assert.False(t, cfg.Buffer.Adaptive.Enabled)

	assert.Equal(t, "parquet", cfg.Flush.Format)
	assert.Equal(t, "none", cfg.Flush.Queue)
	assert.Equal(t, 3, cfg.Flush.MaxAttempts)

	assert.Equal(t, "deltas/", cfg.Compaction.InputPrefix)
	assert.Equal(t, "compacted/", cfg.Compaction.OutputPrefix)
	assert.Equal(t, 10, cfg.Compaction.MinDeltaFiles)
	assert.Equal(t, 20, cfg.Compaction.MaxDeltaFiles)
	assert.Equal(t, "128MiB", cfg.Compaction.TargetFileSize)

	assert.Equal(t, 5, cfg.Maintenance.RetainSnapshots)
	assert.Equal(t, "1h", cfg.Maintenance.OrphanAge)

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "60s", cfg.Scheduler.Interval)

	assert.True(t, cfg.Checkpoint.Enabled)
	assert.Equal(t, "16MiB", cfg.Checkpoint.ChunkSize)

	assert.Equal(t, "fs", cfg.Storage.Driver)
	assert.Equal(t, "lakegate-data", cfg.Storage.FSRoot)

	assert.False(t, cfg.Catalog.Enabled)
	assert.Equal(t, []string{"lakegate"}, cfg.Catalog.Namespace)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "10s", cfg.Server.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "auto", cfg.Logging.Format)

	assert.False(t, cfg.Actions.Enabled)
	assert.Equal(t, "memory", cfg.Actions.Cache)
	assert.Equal(t, "5m", cfg.Actions.CacheTTL)
	assert.Equal(t, 10000, cfg.Actions.CacheSize)

	assert.NotNil(t, cfg.Sources)
	assert.Empty(t, cfg.Sources)
}

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}
