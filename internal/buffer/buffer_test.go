package buffer

import (
	"testing"
	"time"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/pkg/hlc"
)

func mkDelta(table, rowID string, ts hlc.Timestamp) delta.RowDelta {
	d := delta.RowDelta{
		Op:       delta.OpInsert,
		Table:    table,
		RowID:    rowID,
		ClientID: "c1",
		Columns:  []delta.ColumnValue{{Column: "v", Value: delta.String("x")}},
		HLC:      ts,
	}
	d.DeltaID = delta.Fingerprint(&d)

	return d
}

func TestAppendUpdatesAllStructures(t *testing.T) {
	b := New()
	d := mkDelta("tasks", "r1", hlc.Encode(100, 0))

	b.Append(d)

	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
	if !b.HasDelta(d.DeltaID) {
		t.Error("HasDelta = false after append")
	}
	got, ok := b.GetRow(d.Key())
	if !ok || got.DeltaID != d.DeltaID {
		t.Errorf("GetRow = %+v, %v", got, ok)
	}
	if b.EstimatedBytes() <= 0 {
		t.Error("EstimatedBytes should be positive after append")
	}

	stats := b.Stats()
	if stats.Tables["tasks"].Count != 1 {
		t.Errorf("table count = %d, want 1", stats.Tables["tasks"].Count)
	}
}

func TestAppendSameRowOverwritesIndex(t *testing.T) {
	b := New()
	first := mkDelta("tasks", "r1", hlc.Encode(100, 0))
	second := mkDelta("tasks", "r1", hlc.Encode(200, 0))

	b.Append(first)
	b.Append(second)

	// The physical log keeps both; the index points at the later one.
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}
	got, _ := b.GetRow(first.Key())
	if got.HLC != second.HLC {
		t.Errorf("index HLC = %s, want the later append %s", got.HLC, second.HLC)
	}
}

func TestEventsSince(t *testing.T) {
	b := New()
	for i := range 10 {
		b.Append(mkDelta("tasks", "r"+string(rune('0'+i)), hlc.Encode(int64(100+i), 0)))
	}

	// Strictly greater than: the delta at exactly `since` is excluded.
	events, hasMore := b.EventsSince(hlc.Encode(104, 0), 3)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].HLC != hlc.Encode(105, 0) {
		t.Errorf("first event HLC = %s, want %s", events[0].HLC, hlc.Encode(105, 0))
	}
	if !hasMore {
		t.Error("hasMore = false with events remaining")
	}

	// Large limit exhausts the log.
	events, hasMore = b.EventsSince(hlc.Encode(104, 0), 100)
	if len(events) != 5 {
		t.Errorf("got %d events, want remaining 5", len(events))
	}
	if hasMore {
		t.Error("hasMore = true at end of log")
	}

	// Cursor past everything.
	events, hasMore = b.EventsSince(hlc.Encode(500, 0), 10)
	if len(events) != 0 || hasMore {
		t.Errorf("expected empty result past the log, got %d, hasMore=%v", len(events), hasMore)
	}
}

func TestShouldFlush(t *testing.T) {
	b := New()

	if b.ShouldFlush(FlushPolicy{MaxBytes: 1}) {
		t.Error("empty buffer should never flush")
	}

	b.Append(mkDelta("tasks", "r1", hlc.Encode(100, 0)))

	if !b.ShouldFlush(FlushPolicy{MaxBytes: 1}) {
		t.Error("buffer past MaxBytes should flush")
	}
	if b.ShouldFlush(FlushPolicy{MaxBytes: 1 << 30}) {
		t.Error("buffer under MaxBytes with no age limit should not flush")
	}
	if !b.ShouldFlush(FlushPolicy{MaxBytes: 1 << 30, MaxAge: time.Nanosecond}) {
		t.Error("buffer past MaxAge should flush")
	}
}

func TestDrain(t *testing.T) {
	b := New()
	b.Append(mkDelta("tasks", "r1", hlc.Encode(100, 0)))
	b.Append(mkDelta("tasks", "r2", hlc.Encode(101, 0)))

	wantBytes := b.EstimatedBytes()
	entries, bytes := b.Drain()

	if len(entries) != 2 {
		t.Errorf("drained %d entries, want 2", len(entries))
	}
	if bytes != wantBytes {
		t.Errorf("drained bytes = %d, want %d", bytes, wantBytes)
	}
	if b.Len() != 0 || b.EstimatedBytes() != 0 {
		t.Error("buffer not empty after drain")
	}
	if b.HasDelta(entries[0].DeltaID) {
		t.Error("dedup set survived the drain")
	}
}

func TestAppendWithSourceRegistersBothIDs(t *testing.T) {
	b := New()
	merged := mkDelta("tasks", "r1", hlc.Encode(100, 0))

	b.AppendWithSource(merged, "pre-merge-id")

	if !b.HasDelta(merged.DeltaID) {
		t.Error("HasDelta = false for the appended record")
	}
	if !b.HasDelta("pre-merge-id") {
		t.Error("HasDelta = false for the source id")
	}
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}

	// Draining the table removes the source id with its record.
	b.DrainTable("tasks")
	if b.HasDelta("pre-merge-id") {
		t.Error("source id survived DrainTable")
	}
	if b.HasDelta(merged.DeltaID) {
		t.Error("record id survived DrainTable")
	}
}

func TestDrainTable(t *testing.T) {
	b := New()
	b.Append(mkDelta("tasks", "r1", hlc.Encode(100, 0)))
	b.Append(mkDelta("notes", "n1", hlc.Encode(101, 0)))
	b.Append(mkDelta("tasks", "r2", hlc.Encode(102, 0)))

	entries, bytes := b.DrainTable("tasks")

	if len(entries) != 2 {
		t.Fatalf("drained %d entries, want 2", len(entries))
	}
	if entries[0].RowID != "r1" || entries[1].RowID != "r2" {
		t.Errorf("drained order wrong: %s, %s", entries[0].RowID, entries[1].RowID)
	}
	if bytes <= 0 {
		t.Error("drained bytes should be positive")
	}

	// The other table is untouched and the log order preserved.
	if b.Len() != 1 {
		t.Errorf("remaining log size = %d, want 1", b.Len())
	}
	if _, ok := b.GetRow(delta.RowKey{Table: "notes", RowID: "n1"}); !ok {
		t.Error("unrelated table lost its index entry")
	}
	if _, ok := b.GetRow(delta.RowKey{Table: "tasks", RowID: "r1"}); ok {
		t.Error("drained table still indexed")
	}

	// Draining a missing table is a no-op.
	entries, bytes = b.DrainTable("absent")
	if entries != nil || bytes != 0 {
		t.Error("draining an absent table should return nothing")
	}
}

func TestRestorePrependsAndReindexes(t *testing.T) {
	b := New()
	b.Append(mkDelta("tasks", "r1", hlc.Encode(100, 0)))
	b.Append(mkDelta("tasks", "r2", hlc.Encode(101, 0)))

	drained, _ := b.Drain()

	// A push lands while the flush is in flight.
	during := mkDelta("tasks", "r1", hlc.Encode(200, 0))
	b.Append(during)

	b.Restore(drained)

	// Log: restored entries first, then the in-flight append.
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	events, _ := b.EventsSince(0, 10)
	if events[0].HLC != hlc.Encode(100, 0) || events[2].HLC != hlc.Encode(200, 0) {
		t.Errorf("restored log out of clock order: %s ... %s", events[0].HLC, events[2].HLC)
	}

	// The index keeps the newest delta for r1 (the in-flight one), and
	// regains r2 from the restored batch.
	got, _ := b.GetRow(delta.RowKey{Table: "tasks", RowID: "r1"})
	if got.HLC != during.HLC {
		t.Errorf("index lost the newer in-flight delta: %s", got.HLC)
	}
	if _, ok := b.GetRow(delta.RowKey{Table: "tasks", RowID: "r2"}); !ok {
		t.Error("restored row missing from index")
	}

	// Dedup works again for restored ids.
	if !b.HasDelta(drained[0].DeltaID) {
		t.Error("restored deltaId not in dedup set")
	}
}

func TestRestoreLaterEntryWinsIndex(t *testing.T) {
	b := New()
	b.Append(mkDelta("tasks", "r1", hlc.Encode(100, 0)))
	b.Append(mkDelta("tasks", "r1", hlc.Encode(150, 0)))

	drained, _ := b.Drain()
	b.Restore(drained)

	got, _ := b.GetRow(delta.RowKey{Table: "tasks", RowID: "r1"})
	if got.HLC != hlc.Encode(150, 0) {
		t.Errorf("index HLC = %s, want the later restored entry", got.HLC)
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	b := New()
	b.Append(mkDelta("tasks", "r1", hlc.Encode(100, 0)))

	snap := b.Snapshot()
	b.Append(mkDelta("tasks", "r2", hlc.Encode(101, 0)))

	if len(snap.Log) != 1 {
		t.Errorf("snapshot log grew after later append: %d", len(snap.Log))
	}
	if len(snap.Index) != 1 || len(snap.DeltaIDs) != 1 {
		t.Error("snapshot maps not isolated")
	}
}

func TestClear(t *testing.T) {
	b := New()
	b.Append(mkDelta("tasks", "r1", hlc.Encode(100, 0)))

	b.Clear()

	if b.Len() != 0 || b.EstimatedBytes() != 0 {
		t.Error("Clear left content behind")
	}
	if len(b.Stats().Tables) != 0 {
		t.Error("Clear left table stats behind")
	}
}
