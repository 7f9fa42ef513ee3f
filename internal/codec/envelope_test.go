package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/pkg/hlc"
)

func envelopeDelta(rowID string, ts hlc.Timestamp) delta.RowDelta {
	d := delta.RowDelta{
		Op:       delta.OpInsert,
		Table:    "tasks",
		RowID:    rowID,
		ClientID: "c1",
		Columns:  []delta.ColumnValue{{Column: "title", Value: delta.String("x")}},
		HLC:      ts,
	}
	d.DeltaID = delta.Fingerprint(&d)

	return d
}

func TestEnvelopeRoundTrip(t *testing.T) {
	deltas := []delta.RowDelta{
		envelopeDelta("r1", hlc.Encode(100, 1)),
		envelopeDelta("r2", hlc.Encode(300, 0)),
		envelopeDelta("r3", hlc.Encode(200, 7)),
	}

	env := NewFlushEnvelope("gw-1", deltas, 512)
	data, err := EncodeEnvelope(env)
	require.NoError(t, err)

	got, err := DecodeEnvelope(data)
	require.NoError(t, err)

	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "gw-1", got.GatewayID)
	assert.Equal(t, 3, got.DeltaCount)
	assert.Equal(t, 512, got.ByteSize)
	assert.Equal(t, hlc.Encode(100, 1), got.HLCRange.Min)
	assert.Equal(t, hlc.Encode(300, 0), got.HLCRange.Max)
	require.Len(t, got.Deltas, 3)
	assert.Equal(t, deltas[0].DeltaID, got.Deltas[0].DeltaID)
	assert.Equal(t, "x", got.Deltas[0].Columns[0].Value.StringVal())
}

func TestEnvelopeClocksAreStrings(t *testing.T) {
	env := NewFlushEnvelope("gw-1", []delta.RowDelta{envelopeDelta("r1", hlc.Encode(100, 1))}, 0)

	data, err := EncodeEnvelope(env)
	require.NoError(t, err)

	// Clock values must not appear as bare JSON numbers; past 2^53
	// they would lose precision in JavaScript consumers.
	want := hlc.Encode(100, 1).String()
	assert.True(t, strings.Contains(string(data), `"min":"`+want+`"`), "min not string-encoded: %s", data)
	assert.True(t, strings.Contains(string(data), `"hlc":"`+want+`"`), "delta hlc not string-encoded: %s", data)
}

func TestDecodeEnvelopeRejects(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"version":2,"gatewayId":"gw"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestRangeOfEmptyBatch(t *testing.T) {
	r := RangeOf(nil)
	assert.Equal(t, hlc.Timestamp(0), r.Min)
	assert.Equal(t, hlc.Timestamp(0), r.Max)
}
