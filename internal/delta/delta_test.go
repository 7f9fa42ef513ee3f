package delta

import (
	"strings"
	"testing"

	"github.com/lakegate/lakegate/pkg/hlc"
)

func testDelta(rowID string, ts hlc.Timestamp) RowDelta {
	return RowDelta{
		Op:       OpInsert,
		Table:    "tasks",
		RowID:    rowID,
		ClientID: "client-a",
		Columns:  []ColumnValue{{Column: "title", Value: String("hello")}},
		HLC:      ts,
	}
}

func TestFingerprintIsStable(t *testing.T) {
	d := testDelta("r1", hlc.Encode(1000, 0))

	first := Fingerprint(&d)
	second := Fingerprint(&d)

	if first != second {
		t.Errorf("fingerprint not stable: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(first))
	}
}

func TestFingerprintSeparatesFields(t *testing.T) {
	base := testDelta("r1", hlc.Encode(1000, 0))

	variants := []RowDelta{base, base, base, base, base}
	variants[1].Op = OpUpdate
	variants[2].RowID = "r2"
	variants[3].HLC = hlc.Encode(1000, 1)
	variants[4].Columns = []ColumnValue{{Column: "title", Value: String("other")}}

	seen := map[string]int{}
	for i := range variants {
		seen[Fingerprint(&variants[i])]++
	}

	// base appears twice (index 0 unchanged twice is just index 0); the
	// four mutated variants must all differ from base and each other.
	if len(seen) != 5 {
		t.Errorf("expected 5 distinct fingerprints, got %d", len(seen))
	}
}

func TestFingerprintNormalisesUnicode(t *testing.T) {
	// "é" precomposed vs "e" + combining acute: same logical content.
	composed := testDelta("r1", hlc.Encode(1000, 0))
	composed.Columns = []ColumnValue{{Column: "title", Value: String("café")}}

	decomposed := testDelta("r1", hlc.Encode(1000, 0))
	decomposed.Columns = []ColumnValue{{Column: "title", Value: String("café")}}

	if Fingerprint(&composed) != Fingerprint(&decomposed) {
		t.Error("NFC-equivalent strings produced different fingerprints")
	}
}

func TestWithFingerprintPreservesClientID(t *testing.T) {
	d := testDelta("r1", hlc.Encode(1000, 0))
	d.DeltaID = "client-chosen"

	if got := WithFingerprint(d); got.DeltaID != "client-chosen" {
		t.Errorf("DeltaID = %q, want client-chosen", got.DeltaID)
	}

	d.DeltaID = ""
	if got := WithFingerprint(d); got.DeltaID == "" {
		t.Error("empty DeltaID was not filled in")
	}
}

func TestSafeIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"tasks", true},
		{"_private", true},
		{"Table_2", true},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
		{"", false},
		{"1starts_with_digit", false},
		{"has space", false},
		{"drop;table", false},
		{"naïve", false},
	}

	for _, tc := range tests {
		if got := SafeIdentifier(tc.input); got != tc.want {
			t.Errorf("SafeIdentifier(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestPipelineShortCircuits(t *testing.T) {
	calls := 0
	failing := func(d *RowDelta) error {
		calls++
		return &ValidationError{Field: "test", Reason: "always fails"}
	}
	notReached := func(d *RowDelta) error {
		t.Error("validator after a failure should not run")
		return nil
	}

	d := testDelta("r1", hlc.Encode(1000, 0))
	err := Pipeline(failing, notReached)(&d)

	if err == nil {
		t.Fatal("expected pipeline error")
	}
	if calls != 1 {
		t.Errorf("failing validator ran %d times, want 1", calls)
	}
}

func TestIdentifierSafetyValidator(t *testing.T) {
	v := IdentifierSafety()

	good := testDelta("r1", hlc.Encode(1000, 0))
	if err := v(&good); err != nil {
		t.Errorf("valid delta rejected: %v", err)
	}

	badTable := good
	badTable.Table = "bad table"
	if err := v(&badTable); err == nil {
		t.Error("unsafe table name accepted")
	}

	badColumn := good
	badColumn.Columns = []ColumnValue{{Column: "bad-col", Value: String("x")}}
	if err := v(&badColumn); err == nil {
		t.Error("unsafe column name accepted")
	}
}

func TestShapeValidator(t *testing.T) {
	v := Shape()

	tests := []struct {
		name   string
		mutate func(*RowDelta)
		wantOK bool
	}{
		{name: "valid insert", mutate: func(d *RowDelta) {}, wantOK: true},
		{name: "delete with columns is legal", mutate: func(d *RowDelta) { d.Op = OpDelete }, wantOK: true},
		{name: "unknown op", mutate: func(d *RowDelta) { d.Op = "UPSERT" }, wantOK: false},
		{name: "empty table", mutate: func(d *RowDelta) { d.Table = "" }, wantOK: false},
		{name: "empty rowId", mutate: func(d *RowDelta) { d.RowID = "" }, wantOK: false},
		{name: "empty clientId", mutate: func(d *RowDelta) { d.ClientID = "" }, wantOK: false},
		{name: "zero hlc", mutate: func(d *RowDelta) { d.HLC = 0 }, wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := testDelta("r1", hlc.Encode(1000, 0))
			tc.mutate(&d)

			err := v(&d)
			if tc.wantOK && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.wantOK && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
