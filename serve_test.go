package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate/internal/config"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// memoryConfig returns defaults wired for an in-process run: memory
// object store, JSON flush (no schema requirement).
func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Gateway.ID = "gw-test"
	cfg.Storage.Driver = "memory"
	cfg.Flush.Format = "json"

	return cfg
}

func testTableSchema() *schema.TableSchema {
	return &schema.TableSchema{
		Table: "todos",
		Columns: []schema.Column{
			{Name: "title", Type: schema.TypeString},
			{Name: "completed", Type: schema.TypeBoolean},
		},
	}
}

func TestBuildDeps_Defaults(t *testing.T) {
	t.Parallel()

	deps, err := buildDeps(context.Background(), memoryConfig(), testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "gw-test", deps.gatewayID)
	assert.NotNil(t, deps.gateway)
	assert.NotNil(t, deps.server)

	// No table schema means the compactor cannot order base-file
	// columns, so maintenance stays off.
	assert.Nil(t, deps.scheduler)
	assert.Nil(t, deps.rules)
	assert.Nil(t, deps.consumer)
}

func TestBuildDeps_WithSchemaEnablesScheduler(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Gateway.TableSchema = testTableSchema()
	cfg.Flush.Format = "parquet"

	deps, err := buildDeps(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)

	assert.NotNil(t, deps.scheduler)
}

func TestBuildDeps_ParquetWithoutSchemaFails(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Flush.Format = "parquet"

	_, err := buildDeps(context.Background(), cfg, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table schema")
}

func TestBuildDeps_GeneratesGatewayID(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Gateway.ID = ""

	deps, err := buildDeps(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)

	assert.Contains(t, deps.gatewayID, "gw-")
	assert.Greater(t, len(deps.gatewayID), 3)
}

func TestGatewayConfig_ParsesSizesAndAdaptive(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Buffer.MaxBytes = "1MiB"
	cfg.Buffer.MaxAge = "45s"
	cfg.Buffer.BackpressureBytes = "3MiB"
	cfg.Buffer.Adaptive.Enabled = true
	cfg.Buffer.Adaptive.WideColumnThreshold = "16KiB"
	cfg.Buffer.Adaptive.ReductionFactor = 0.25

	gwCfg, err := gatewayConfig(cfg, "gw-test")
	require.NoError(t, err)

	assert.Equal(t, 1<<20, gwCfg.MaxBufferBytes)
	assert.Equal(t, 3<<20, gwCfg.MaxBackpressureBytes)
	require.NotNil(t, gwCfg.Adaptive)
	assert.Equal(t, 16<<10, gwCfg.Adaptive.WideColumnThreshold)
	assert.InDelta(t, 0.25, gwCfg.Adaptive.ReductionFactor, 1e-9)
}

func TestGatewayConfig_BadSize(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Buffer.MaxBytes = "lots"

	_, err := gatewayConfig(cfg, "gw-test")
	require.Error(t, err)
}

func TestMaintenanceTaskProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := memoryConfig()
	store := objstore.NewMemory()

	provider := maintenanceTaskProvider(cfg, store)

	// Empty store: nothing to do this tick.
	task, err := provider(ctx)
	require.NoError(t, err)
	assert.Nil(t, task)

	require.NoError(t, store.Put(ctx, "deltas/2026-08-25/gw-test/1-2.parquet", []byte("x"), "application/vnd.apache.parquet"))
	require.NoError(t, store.Put(ctx, "compacted/base-1.parquet", []byte("y"), "application/vnd.apache.parquet"))

	task, err = provider(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, []string{"deltas/2026-08-25/gw-test/1-2.parquet"}, task.DeltaFileKeys)
	assert.Equal(t, cfg.Compaction.OutputPrefix, task.OutputPrefix)
}

func TestBuildQueue_UnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Flush.Queue = "kafka"

	_, err := buildDeps(context.Background(), cfg, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestBuildDeps_BadgerQueueWithoutSources(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Flush.Queue = "badger"
	cfg.Flush.BadgerDir = t.TempDir()

	deps, err := buildDeps(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { deps.close(testLogger(t)) })

	require.NotNil(t, deps.badgerQ)
	// No materialisers registered, so no consumer is started.
	assert.Nil(t, deps.consumer)
}

func TestBuildDeps_SQLiteSourceFeedsConsumer(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Sources = map[string]config.SourceConfig{
		"local": {Driver: "sqlite", Path: ":memory:"},
	}
	cfg.Flush.Queue = "badger"
	cfg.Flush.BadgerDir = t.TempDir()

	deps, err := buildDeps(context.Background(), cfg, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { deps.close(testLogger(t)) })

	require.NotNil(t, deps.sources)
	_, ok := deps.sources.Get("local")
	assert.True(t, ok)
	assert.NotNil(t, deps.consumer)
}
