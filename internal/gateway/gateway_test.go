package gateway

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate/internal/buffer"
	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// testWriter adapts t.Log so gateway logs land in test output.
type testWriter struct {
	t *testing.T
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))

	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newTestGateway builds a gateway over a fresh buffer; mutate adjusts
// the config before construction.
func newTestGateway(t *testing.T, mutate func(*Config)) *Gateway {
	t.Helper()

	cfg := Config{
		GatewayID: "gw-test",
		Buffer:    buffer.New(),
		Clock:     hlc.NewClock(0),
		Logger:    testLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	g, err := New(&cfg)
	require.NoError(t, err)

	return g
}

// testDelta builds a fingerprinted UPDATE with string columns given as
// alternating name, value pairs.
func testDelta(table, rowID, clientID string, ts hlc.Timestamp, pairs ...string) delta.RowDelta {
	cols := make([]delta.ColumnValue, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		cols = append(cols, delta.ColumnValue{Column: pairs[i], Value: delta.String(pairs[i+1])})
	}

	return delta.WithFingerprint(delta.RowDelta{
		Op:       delta.OpUpdate,
		Table:    table,
		RowID:    rowID,
		ClientID: clientID,
		Columns:  cols,
		HLC:      ts,
	})
}

func tasksSchema(t *testing.T) *schema.Manager {
	t.Helper()

	m, err := schema.NewManager(schema.TableSchema{
		Table: "tasks",
		Columns: []schema.Column{
			{Name: "title", Type: schema.TypeString},
			{Name: "status", Type: schema.TypeString},
			{Name: "priority", Type: schema.TypeNumber},
		},
		PrimaryKey: "id",
	})
	require.NoError(t, err)

	return m
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			GatewayID: "gw-1",
			Buffer:    buffer.New(),
			Clock:     hlc.NewClock(0),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing gateway id", func(c *Config) { c.GatewayID = "" }, "gateway ID"},
		{"missing buffer", func(c *Config) { c.Buffer = nil }, "buffer"},
		{"missing clock", func(c *Config) { c.Clock = nil }, "clock"},
		{
			"reduction factor zero",
			func(c *Config) { c.Adaptive = &AdaptiveConfig{WideColumnThreshold: 100, ReductionFactor: 0} },
			"reduction factor",
		},
		{
			"reduction factor one",
			func(c *Config) { c.Adaptive = &AdaptiveConfig{WideColumnThreshold: 100, ReductionFactor: 1} },
			"reduction factor",
		},
		{
			"non-positive wide threshold",
			func(c *Config) { c.Adaptive = &AdaptiveConfig{WideColumnThreshold: 0, ReductionFactor: 0.5} },
			"wide-column threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.mutate(&cfg)

			_, err := New(&cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()

		_, err := New(nil)
		require.Error(t, err)
	})
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, nil)

	assert.Equal(t, 4<<20, g.cfg.MaxBufferBytes)
	assert.Equal(t, 30*time.Second, g.cfg.MaxBufferAge)
	assert.Equal(t, 8<<20, g.cfg.MaxBackpressureBytes)
	assert.Equal(t, "gw-test", g.ID())
}

func TestBackpressureDefaultTracksBufferLimit(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, func(c *Config) { c.MaxBufferBytes = 1000 })

	assert.Equal(t, 2000, g.cfg.MaxBackpressureBytes)
}

func TestEffectiveMaxBufferBytesAdaptive(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, func(c *Config) {
		c.MaxBufferBytes = 100_000
		c.Adaptive = &AdaptiveConfig{WideColumnThreshold: 1000, ReductionFactor: 0.5}
	})

	// Empty buffer keeps the configured limit.
	assert.Equal(t, 100_000, g.effectiveMaxBufferBytes())

	// Narrow rows stay under the threshold.
	g.buffer.Append(testDelta("tasks", "r1", "c1", hlc.Encode(1000, 0), "title", "short"))
	g.buffer.Append(testDelta("tasks", "r2", "c1", hlc.Encode(1001, 0), "title", "short"))
	assert.Equal(t, 100_000, g.effectiveMaxBufferBytes())

	// One wide row drags the average over the threshold.
	wide := strings.Repeat("x", 10_000)
	g.buffer.Append(testDelta("tasks", "r3", "c1", hlc.Encode(1002, 0), "body", wide))
	assert.Equal(t, 50_000, g.effectiveMaxBufferBytes())
}

func TestEffectiveMaxBufferBytesWithoutAdaptive(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, func(c *Config) { c.MaxBufferBytes = 100 })
	g.buffer.Append(testDelta("tasks", "r1", "c1", hlc.Encode(1000, 0), "body", strings.Repeat("x", 10_000)))

	assert.Equal(t, 100, g.effectiveMaxBufferBytes())
}
