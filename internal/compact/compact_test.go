package compact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate/internal/codec"
	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// testWriter adapts t.Log so package logs land in test output.
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

func testSchemas(t *testing.T) *schema.Manager {
	t.Helper()

	m, err := schema.NewManager(schema.TableSchema{
		Table: "tasks",
		Columns: []schema.Column{
			{Name: "title", Type: schema.TypeString},
			{Name: "status", Type: schema.TypeString},
			{Name: "score", Type: schema.TypeNumber},
		},
		PrimaryKey: "id",
	})
	require.NoError(t, err)

	return m
}

// update builds a fingerprinted UPDATE with string columns given as
// alternating name, value pairs.
func update(rowID, clientID string, ts hlc.Timestamp, pairs ...string) delta.RowDelta {
	cols := make([]delta.ColumnValue, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		cols = append(cols, delta.ColumnValue{Column: pairs[i], Value: delta.String(pairs[i+1])})
	}

	return delta.WithFingerprint(delta.RowDelta{
		Op:       delta.OpUpdate,
		Table:    "tasks",
		RowID:    rowID,
		ClientID: clientID,
		Columns:  cols,
		HLC:      ts,
	})
}

func tombstoneFor(rowID, clientID string, ts hlc.Timestamp) delta.RowDelta {
	return delta.WithFingerprint(delta.RowDelta{
		Op:       delta.OpDelete,
		Table:    "tasks",
		RowID:    rowID,
		ClientID: clientID,
		HLC:      ts,
	})
}

// writeDeltaFile stores one parquet delta file and returns its key.
func writeDeltaFile(t *testing.T, store objstore.Adapter, m *schema.Manager, key string, entries ...delta.RowDelta) string {
	t.Helper()

	data, err := codec.WriteDeltas(entries, m.Snapshot().Schema)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), key, data, contentTypeParquet))

	return key
}

// newTestCompactor pins the clock and the random suffix so output
// keys are deterministic.
func newTestCompactor(t *testing.T, store objstore.Adapter, m *schema.Manager, policy CompactionConfig) *Compactor {
	t.Helper()

	c, err := NewCompactor(&Config{
		Store:   store,
		Schemas: m,
		Policy:  policy,
		Logger:  testLogger(t),
	})
	require.NoError(t, err)

	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	seq := 0
	c.random = func() string {
		seq++
		return fmt.Sprintf("%06d", seq)
	}

	return c
}

// readFile decodes one stored parquet object.
func readFile(t *testing.T, store objstore.Adapter, key string) []delta.RowDelta {
	t.Helper()

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	entries, err := codec.ReadDeltas(data)
	require.NoError(t, err)

	return entries
}

// failingPut rejects every write.
type failingPut struct {
	objstore.Adapter
}

func (s *failingPut) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return errors.New("quota exceeded")
}

func TestCompactBelowMinIsNoop(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	m := testSchemas(t)
	key := writeDeltaFile(t, store, m, "deltas/f1.parquet", update("r1", "c1", hlc.Encode(1000, 0), "title", "a"))
	c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 2, MaxDeltaFiles: 4})

	res, err := c.Compact(context.Background(), []string{key}, "compacted")
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)
	assert.Equal(t, 1, store.Len())
}

func TestCompactResolvesRows(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	m := testSchemas(t)
	later := update("r1", "c2", hlc.Encode(2000, 0), "status", "done")
	keys := []string{
		writeDeltaFile(t, store, m, "deltas/f1.parquet",
			update("r1", "c1", hlc.Encode(1000, 0), "title", "a", "status", "open"),
			update("r2", "c1", hlc.Encode(1001, 0), "title", "b")),
		writeDeltaFile(t, store, m, "deltas/f2.parquet",
			later,
			update("r3", "c1", hlc.Encode(2001, 0), "title", "c")),
		writeDeltaFile(t, store, m, "deltas/f3.parquet",
			tombstoneFor("r2", "c1", hlc.Encode(3000, 0))),
	}
	c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 2, MaxDeltaFiles: 4})

	res, err := c.Compact(context.Background(), keys, "compacted")
	require.NoError(t, err)
	assert.Equal(t, 3, res.DeltaFilesCompacted)
	assert.Equal(t, 1, res.BaseFilesWritten)
	assert.Equal(t, 1, res.DeleteFilesWritten)
	assert.Greater(t, res.BytesRead, 0)
	assert.Greater(t, res.BytesWritten, 0)

	base := readFile(t, store, "compacted/base-1700000000000-000001.parquet")
	require.Len(t, base, 2)

	// r1 carries the winning value per column with the row's latest
	// identity.
	assert.Equal(t, "r1", base[0].RowID)
	assert.Equal(t, delta.OpInsert, base[0].Op)
	assert.Equal(t, "c2", base[0].ClientID)
	assert.Equal(t, hlc.Encode(2000, 0), base[0].HLC)
	assert.Equal(t, later.DeltaID, base[0].DeltaID)
	require.Len(t, base[0].Columns, 2)
	assert.Equal(t, "title", base[0].Columns[0].Column)
	assert.Equal(t, "a", base[0].Columns[0].Value.StringVal())
	assert.Equal(t, "status", base[0].Columns[1].Column)
	assert.Equal(t, "done", base[0].Columns[1].Value.StringVal())

	assert.Equal(t, "r3", base[1].RowID)

	dead := readFile(t, store, "compacted/delete-1700000000000-000002.parquet")
	require.Len(t, dead, 1)
	assert.Equal(t, delta.OpDelete, dead[0].Op)
	assert.Equal(t, "tasks", dead[0].Table)
	assert.Equal(t, "r2", dead[0].RowID)
	assert.Empty(t, dead[0].Columns)
}

func TestCompactTruncatesToMaxFiles(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	m := testSchemas(t)
	var keys []string
	for i := range 5 {
		keys = append(keys, writeDeltaFile(t, store, m, fmt.Sprintf("deltas/f%d.parquet", i),
			update(fmt.Sprintf("r%d", i), "c1", hlc.Encode(1000+int64(i), 0), "title", "t")))
	}
	c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 2, MaxDeltaFiles: 4})

	res, err := c.Compact(context.Background(), keys, "compacted")
	require.NoError(t, err)
	assert.Equal(t, 4, res.DeltaFilesCompacted)

	base := readFile(t, store, "compacted/base-1700000000000-000001.parquet")
	require.Len(t, base, 4)
	for _, d := range base {
		assert.NotEqual(t, "r4", d.RowID)
	}
}

func TestCompactDeleteThenResurrect(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	m := testSchemas(t)
	keys := []string{
		writeDeltaFile(t, store, m, "deltas/f1.parquet", update("r1", "c1", hlc.Encode(1000, 0), "title", "a")),
		writeDeltaFile(t, store, m, "deltas/f2.parquet", tombstoneFor("r1", "c1", hlc.Encode(2000, 0))),
		writeDeltaFile(t, store, m, "deltas/f3.parquet", update("r1", "c2", hlc.Encode(3000, 0), "status", "new")),
	}
	c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 2, MaxDeltaFiles: 4})

	res, err := c.Compact(context.Background(), keys, "compacted")
	require.NoError(t, err)
	assert.Equal(t, 1, res.BaseFilesWritten)
	assert.Equal(t, 0, res.DeleteFilesWritten)

	// Only the post-delete column survives the resurrection.
	base := readFile(t, store, "compacted/base-1700000000000-000001.parquet")
	require.Len(t, base, 1)
	assert.Equal(t, hlc.Encode(3000, 0), base[0].HLC)
	require.Len(t, base[0].Columns, 1)
	assert.Equal(t, "status", base[0].Columns[0].Column)
	assert.Equal(t, "new", base[0].Columns[0].Value.StringVal())
}

func TestCompactDeleteAtColumnClockKillsRow(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	m := testSchemas(t)
	keys := []string{
		writeDeltaFile(t, store, m, "deltas/f1.parquet", update("r1", "c1", hlc.Encode(2000, 0), "title", "a")),
		writeDeltaFile(t, store, m, "deltas/f2.parquet", tombstoneFor("r1", "c1", hlc.Encode(2000, 0))),
	}
	c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 2, MaxDeltaFiles: 4})

	res, err := c.Compact(context.Background(), keys, "compacted")
	require.NoError(t, err)
	assert.Equal(t, 0, res.BaseFilesWritten)
	assert.Equal(t, 1, res.DeleteFilesWritten)
}

func TestCompactEqualClockTiebreak(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	m := testSchemas(t)
	ts := hlc.Encode(1000, 0)
	keys := []string{
		writeDeltaFile(t, store, m, "deltas/f1.parquet", update("r1", "client-b", ts, "title", "from-b")),
		writeDeltaFile(t, store, m, "deltas/f2.parquet", update("r1", "client-a", ts, "title", "from-a")),
	}
	c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 2, MaxDeltaFiles: 4})

	_, err := c.Compact(context.Background(), keys, "compacted")
	require.NoError(t, err)

	// The greater client wins regardless of file order.
	base := readFile(t, store, "compacted/base-1700000000000-000001.parquet")
	require.Len(t, base, 1)
	require.Len(t, base[0].Columns, 1)
	assert.Equal(t, "from-b", base[0].Columns[0].Value.StringVal())
}

func TestCompactTargetSizeSplitsBaseFiles(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	m := testSchemas(t)
	keys := []string{
		writeDeltaFile(t, store, m, "deltas/f1.parquet", update("r1", "c1", hlc.Encode(1000, 0), "title", "a")),
		writeDeltaFile(t, store, m, "deltas/f2.parquet", update("r2", "c1", hlc.Encode(1001, 0), "title", "b")),
	}
	c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 2, MaxDeltaFiles: 4, TargetFileSizeBytes: 1})

	res, err := c.Compact(context.Background(), keys, "compacted")
	require.NoError(t, err)
	assert.Equal(t, 2, res.BaseFilesWritten)
}

func TestCompactErrorStages(t *testing.T) {
	t.Parallel()

	t.Run("read", func(t *testing.T) {
		t.Parallel()

		store := objstore.NewMemory()
		m := testSchemas(t)
		c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 1, MaxDeltaFiles: 4})

		_, err := c.Compact(context.Background(), []string{"deltas/missing.parquet"}, "compacted")

		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "read", cerr.Stage)
		assert.True(t, objstore.IsNotFound(err))
	})

	t.Run("parse", func(t *testing.T) {
		t.Parallel()

		store := objstore.NewMemory()
		m := testSchemas(t)
		require.NoError(t, store.Put(context.Background(), "deltas/garbage.parquet", []byte("not parquet"), contentTypeParquet))
		c := newTestCompactor(t, store, m, CompactionConfig{MinDeltaFiles: 1, MaxDeltaFiles: 4})

		_, err := c.Compact(context.Background(), []string{"deltas/garbage.parquet"}, "compacted")

		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "parse", cerr.Stage)
	})

	t.Run("store", func(t *testing.T) {
		t.Parallel()

		mem := objstore.NewMemory()
		m := testSchemas(t)
		key := writeDeltaFile(t, mem, m, "deltas/f1.parquet", update("r1", "c1", hlc.Encode(1000, 0), "title", "a"))
		c := newTestCompactor(t, &failingPut{Adapter: mem}, m, CompactionConfig{MinDeltaFiles: 1, MaxDeltaFiles: 4})

		_, err := c.Compact(context.Background(), []string{key}, "compacted")

		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "store", cerr.Stage)
	})
}

func TestNewCompactorValidation(t *testing.T) {
	t.Parallel()

	store := objstore.NewMemory()
	m := testSchemas(t)

	_, err := NewCompactor(nil)
	require.Error(t, err)

	_, err = NewCompactor(&Config{Schemas: m})
	require.ErrorContains(t, err, "object store")

	_, err = NewCompactor(&Config{Store: store})
	require.ErrorContains(t, err, "schema manager")

	_, err = NewCompactor(&Config{Store: store, Schemas: m, Policy: CompactionConfig{MinDeltaFiles: 10, MaxDeltaFiles: 5}})
	require.ErrorContains(t, err, "below min")
}
