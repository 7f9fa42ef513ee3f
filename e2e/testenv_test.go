package e2e

import (
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate/internal/buffer"
	"github.com/lakegate/lakegate/internal/compact"
	"github.com/lakegate/lakegate/internal/flush"
	"github.com/lakegate/lakegate/internal/gateway"
	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/internal/server"
	"github.com/lakegate/lakegate/internal/syncrules"
	"github.com/lakegate/lakegate/pkg/hlc"
)

const testGatewayID = "gw-e2e"

// env wires a full gateway instance over a memory object store: HTTP
// surface, flush coordinator, compactor, checkpoint generator, and
// maintenance runner, all sharing one store.
type env struct {
	store  *objstore.Memory
	clock  *hlc.Clock
	buf    *buffer.Buffer
	gw     *gateway.Gateway
	runner *compact.Runner
	gen    *compact.Generator
	srv    *httptest.Server
}

type envOptions struct {
	rules           *syncrules.Store
	backpressure    int
	checkpointChunk int
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(logWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type logWriter struct{ t *testing.T }

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func todoSchema() schema.TableSchema {
	return schema.TableSchema{
		Table: "todos",
		Columns: []schema.Column{
			{Name: "title", Type: schema.TypeString},
			{Name: "completed", Type: schema.TypeBoolean},
			{Name: "owner", Type: schema.TypeString},
		},
	}
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()

	logger := testLogger(t)
	store := objstore.NewMemory()
	buf := buffer.New()
	clock := hlc.NewClock(0)

	schemas, err := schema.NewManager(todoSchema())
	require.NoError(t, err)

	bundle := metrics.NewBundle()

	flusher, err := flush.NewCoordinator(&flush.Config{
		GatewayID: testGatewayID,
		Format:    flush.FormatParquet,
		Buffer:    buf,
		Store:     store,
		Schemas:   schemas,
		Logger:    logger,
	})
	require.NoError(t, err)

	gw, err := gateway.New(&gateway.Config{
		GatewayID:            testGatewayID,
		MaxBufferBytes:       4 << 20,
		MaxBackpressureBytes: opts.backpressure,
		Buffer:               buf,
		Clock:                clock,
		Schemas:              schemas,
		Flusher:              flusher,
		Metrics:              bundle.Gateway,
		FlushMetrics:         bundle.Flush,
		Logger:               logger,
	})
	require.NoError(t, err)

	compactor, err := compact.NewCompactor(&compact.Config{
		Store:   store,
		Schemas: schemas,
		Policy: compact.CompactionConfig{
			MinDeltaFiles: 1,
			MaxDeltaFiles: 20,
		},
		Metrics: bundle.Compactor,
		Logger:  logger,
	})
	require.NoError(t, err)

	chunkBytes := opts.checkpointChunk
	if chunkBytes == 0 {
		chunkBytes = 1 << 20
	}
	gen, err := compact.NewGenerator(&compact.GeneratorConfig{
		GatewayID:  testGatewayID,
		Store:      store,
		ChunkBytes: chunkBytes,
		Metrics:    bundle.Checkpoint,
		Logger:     logger,
	})
	require.NoError(t, err)

	runner, err := compact.NewRunner(&compact.RunnerConfig{
		Compactor: compactor,
		Generator: gen,
		Store:     store,
		Policy:    compact.MaintenanceConfig{OrphanAge: time.Hour},
		Logger:    logger,
	})
	require.NoError(t, err)

	srv, err := server.New(&server.Config{
		Gateway:     gw,
		Rules:       opts.rules,
		Checkpoints: gen,
		Store:       store,
		Metrics:     bundle,
		Logger:      logger,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &env{
		store:  store,
		clock:  clock,
		buf:    buf,
		gw:     gw,
		runner: runner,
		gen:    gen,
		srv:    ts,
	}
}

func (e *env) url(path string) string {
	return e.srv.URL + path
}

// deltaFileKeys lists the flushed delta files in store order.
func (e *env) deltaFileKeys(t *testing.T) []string {
	t.Helper()

	objects, err := e.store.List(t.Context(), "deltas/")
	require.NoError(t, err)

	keys := make([]string, 0, len(objects))
	for _, o := range objects {
		keys = append(keys, o.Key)
	}

	return keys
}
