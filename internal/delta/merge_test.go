package delta

import (
	"testing"

	"github.com/lakegate/lakegate/pkg/hlc"
)

func rowAt(op Op, clientID string, ts hlc.Timestamp, cols ...ColumnValue) RowDelta {
	d := RowDelta{
		Op:       op,
		Table:    "tasks",
		RowID:    "r1",
		ClientID: clientID,
		Columns:  cols,
		HLC:      ts,
	}
	d.DeltaID = Fingerprint(&d)

	return d
}

func col(name string, v Value) ColumnValue {
	return ColumnValue{Column: name, Value: v}
}

func findColumn(t *testing.T, d RowDelta, name string) Value {
	t.Helper()
	for _, cv := range d.Columns {
		if cv.Column == name {
			return cv.Value
		}
	}
	t.Fatalf("column %q not present in merged delta", name)

	return Value{}
}

func TestMergeKeepsNewerColumn(t *testing.T) {
	older := rowAt(OpInsert, "a", hlc.Encode(100, 0), col("title", String("A")), col("done", Bool(false)))
	newer := rowAt(OpUpdate, "b", hlc.Encode(200, 0), col("done", Bool(true)))

	merged := Merge(&older, &newer)

	if merged.Op != OpInsert {
		t.Errorf("Op = %s, want INSERT", merged.Op)
	}
	if got := findColumn(t, merged, "title"); !got.Equal(String("A")) {
		t.Error("untouched column lost its value")
	}
	if got := findColumn(t, merged, "done"); !got.Equal(Bool(true)) {
		t.Error("newer column value lost the merge")
	}
	if merged.HLC != hlc.Encode(200, 0) {
		t.Errorf("HLC = %s, want max contribution %s", merged.HLC, hlc.Encode(200, 0))
	}
}

func TestMergeIsOrderIndependent(t *testing.T) {
	a := rowAt(OpInsert, "a", hlc.Encode(100, 0), col("title", String("A")), col("done", Bool(false)))
	b := rowAt(OpUpdate, "b", hlc.Encode(200, 0), col("done", Bool(true)))

	forward := Merge(&a, &b)
	reverse := Merge(&b, &a)

	if forward.DeltaID != reverse.DeltaID {
		t.Errorf("merge order changed the result:\n  a,b: %+v\n  b,a: %+v", forward, reverse)
	}
}

func TestMergeTiebreakByClientID(t *testing.T) {
	same := hlc.Encode(500, 0)
	fromA := rowAt(OpUpdate, "alpha", same, col("v", String("from-alpha")))
	fromZ := rowAt(OpUpdate, "zulu", same, col("v", String("from-zulu")))

	merged := Merge(&fromA, &fromZ)

	// Equal clocks: the lexicographically greater client wins.
	if got := findColumn(t, merged, "v"); !got.Equal(String("from-zulu")) {
		t.Errorf("tiebreak picked the wrong writer: %+v", merged)
	}

	flipped := Merge(&fromZ, &fromA)
	if got := findColumn(t, flipped, "v"); !got.Equal(String("from-zulu")) {
		t.Error("tiebreak depends on argument order")
	}
}

func TestMergeDeleteWins(t *testing.T) {
	insert := rowAt(OpInsert, "a", hlc.Encode(100, 0), col("v", String("x")))
	del := rowAt(OpDelete, "a", hlc.Encode(200, 0))

	merged := Merge(&insert, &del)

	if merged.Op != OpDelete {
		t.Errorf("Op = %s, want DELETE when the delete clock dominates", merged.Op)
	}
	if len(merged.Columns) != 0 {
		t.Errorf("dead row carries %d columns, want none", len(merged.Columns))
	}
	if merged.HLC != hlc.Encode(200, 0) {
		t.Errorf("HLC = %s, want the delete clock", merged.HLC)
	}
}

func TestMergeResurrection(t *testing.T) {
	// DELETE at 20 then INSERT at 30: the row lives again with only the
	// post-delete columns.
	del := rowAt(OpDelete, "a", hlc.Encode(20, 0))
	revived := rowAt(OpInsert, "a", hlc.Encode(30, 0), col("v", String("y")))

	merged := Merge(&del, &revived)

	if merged.Op != OpInsert {
		t.Errorf("Op = %s, want INSERT after resurrection", merged.Op)
	}
	if got := findColumn(t, merged, "v"); !got.Equal(String("y")) {
		t.Error("resurrected column value wrong")
	}
}

func TestMergeResurrectionDropsPreDeleteColumns(t *testing.T) {
	// Columns written before the delete do not survive it, even when the
	// row itself is resurrected by a later write.
	old := rowAt(OpInsert, "a", hlc.Encode(10, 0), col("stale", String("gone")), col("v", String("x")))
	del := rowAt(OpDelete, "a", hlc.Encode(20, 0))
	revived := rowAt(OpUpdate, "a", hlc.Encode(30, 0), col("v", String("y")))

	step1 := Merge(&old, &del)
	step2 := Merge(&step1, &revived)

	if step2.Op != OpInsert {
		t.Fatalf("Op = %s, want INSERT", step2.Op)
	}
	if len(step2.Columns) != 1 {
		t.Fatalf("columns = %+v, want only the post-delete column", step2.Columns)
	}
	if got := findColumn(t, step2, "v"); !got.Equal(String("y")) {
		t.Error("post-delete column value wrong")
	}
}

func TestMergeStaleDeleteLoses(t *testing.T) {
	insert := rowAt(OpInsert, "a", hlc.Encode(300, 0), col("v", String("current")))
	staleDelete := rowAt(OpDelete, "b", hlc.Encode(100, 0))

	merged := Merge(&insert, &staleDelete)

	if merged.Op != OpInsert {
		t.Errorf("Op = %s; a delete older than every column must not kill the row", merged.Op)
	}
	if got := findColumn(t, merged, "v"); !got.Equal(String("current")) {
		t.Error("column value lost to a stale delete")
	}
}

func TestMergeSynthesisesNewDeltaID(t *testing.T) {
	a := rowAt(OpInsert, "a", hlc.Encode(100, 0), col("v", String("x")))
	b := rowAt(OpUpdate, "b", hlc.Encode(200, 0), col("v", String("y")))

	merged := Merge(&a, &b)

	if merged.DeltaID == a.DeltaID || merged.DeltaID == b.DeltaID {
		t.Error("merged delta must carry its own content fingerprint")
	}
	if merged.DeltaID != Fingerprint(&merged) {
		t.Error("merged DeltaID does not match its content fingerprint")
	}
}

func TestMergeColumnsSortedByName(t *testing.T) {
	a := rowAt(OpInsert, "a", hlc.Encode(100, 0), col("zeta", Int(1)), col("alpha", Int(2)))
	b := rowAt(OpUpdate, "b", hlc.Encode(200, 0), col("mid", Int(3)))

	merged := Merge(&a, &b)

	for i := 1; i < len(merged.Columns); i++ {
		if merged.Columns[i-1].Column >= merged.Columns[i].Column {
			t.Fatalf("merged columns not sorted: %+v", merged.Columns)
		}
	}
}
