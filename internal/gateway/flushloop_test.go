package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/flush"
	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// failingPutStore rejects every write.
type failingPutStore struct {
	objstore.Adapter
}

func (s *failingPutStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return errors.New("disk full")
}

// jsonCoordinator builds a JSON-envelope flush coordinator over the
// gateway's buffer and the given store.
func jsonCoordinator(t *testing.T, c *Config, store objstore.Adapter) *flush.Coordinator {
	t.Helper()

	coord, err := flush.NewCoordinator(&flush.Config{
		GatewayID: c.GatewayID,
		Format:    flush.FormatJSON,
		Buffer:    c.Buffer,
		Store:     store,
		Logger:    testLogger(t),
	})
	require.NoError(t, err)

	return coord
}

func TestRunFlushesWhenKicked(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	g := newTestGateway(t, func(c *Config) {
		c.MaxBufferBytes = 1
		c.MaxBackpressureBytes = 1 << 20
		c.Flusher = jsonCoordinator(t, c, store)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	_, err := g.Push(context.Background(), &SyncPush{
		ClientID: "c1",
		Deltas:   []delta.RowDelta{testDelta("tasks", "r1", "c1", hlc.Encode(1000, 0), "title", "a")},
	}, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.Len() == 1 && g.buffer.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("flush loop did not stop")
	}
}

func TestRunWithoutFlusherReturns(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, nil)

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("flush loop without a target should return immediately")
	}
}

func TestFlushNowRequiresTarget(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, nil)

	_, err := g.FlushNow(context.Background())
	require.ErrorContains(t, err, "no flush target")

	_, err = g.FlushTableNow(context.Background(), "tasks")
	require.ErrorContains(t, err, "no flush target")
}

func TestFlushNowObservesMetrics(t *testing.T) {
	t.Parallel()

	bundle := metrics.NewBundle()
	store := objstore.NewMemory()
	g := newTestGateway(t, func(c *Config) {
		c.Metrics = bundle.Gateway
		c.FlushMetrics = bundle.Flush
		c.Flusher = jsonCoordinator(t, c, store)
	})

	_, err := g.Push(context.Background(), &SyncPush{
		ClientID: "c1",
		Deltas:   []delta.RowDelta{testDelta("tasks", "r1", "c1", hlc.Encode(1000, 0), "title", "a")},
	}, "")
	require.NoError(t, err)

	res, err := g.FlushNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deltas)
	assert.Equal(t, 1, store.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(bundle.Flush.Flushes))
	assert.Greater(t, testutil.ToFloat64(bundle.Flush.Bytes), 0.0)
	assert.Equal(t, 0.0, testutil.ToFloat64(bundle.Gateway.BufferBytes))
}

func TestFlushNowFailureRestoresBuffer(t *testing.T) {
	t.Parallel()

	bundle := metrics.NewBundle()
	g := newTestGateway(t, func(c *Config) {
		c.FlushMetrics = bundle.Flush
		c.Flusher = jsonCoordinator(t, c, &failingPutStore{Adapter: objstore.NewMemory()})
	})

	_, err := g.Push(context.Background(), &SyncPush{
		ClientID: "c1",
		Deltas:   []delta.RowDelta{testDelta("tasks", "r1", "c1", hlc.Encode(1000, 0), "title", "a")},
	}, "")
	require.NoError(t, err)

	_, err = g.FlushNow(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(bundle.Flush.Failures))
	assert.Equal(t, 0.0, testutil.ToFloat64(bundle.Flush.Flushes))

	// The failed batch went back into the buffer for the next try.
	assert.Equal(t, 1, g.buffer.Len())
}

func TestFlushTableNowLeavesOtherTables(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	g := newTestGateway(t, func(c *Config) {
		c.Flusher = jsonCoordinator(t, c, store)
	})

	_, err := g.Push(context.Background(), &SyncPush{ClientID: "c1", Deltas: []delta.RowDelta{
		testDelta("tasks", "r1", "c1", hlc.Encode(1000, 0), "title", "a"),
		testDelta("notes", "r2", "c1", hlc.Encode(1001, 0), "title", "b"),
	}}, "")
	require.NoError(t, err)

	res, err := g.FlushTableNow(context.Background(), "tasks")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deltas)
	assert.Contains(t, res.ObjectKey, "tasks-")

	assert.Equal(t, 1, g.buffer.Len())
	assert.Equal(t, 1, store.Len())
}
