package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// SyncResponse is the binary pull payload, also the layout of each
// checkpoint chunk.
type SyncResponse struct {
	Deltas    []delta.RowDelta
	ServerHLC hlc.Timestamp
	HasMore   bool
}

// SyncResponse wire fields.
const (
	fieldDeltas    = 1
	fieldServerHLC = 2
	fieldHasMore   = 3
)

// RowDelta wire fields.
const (
	fieldOp       = 1
	fieldTable    = 2
	fieldRowID    = 3
	fieldClientID = 4
	fieldHLC      = 5
	fieldDeltaID  = 6
	fieldColumns  = 7
)

// ColumnValue wire fields. Values travel as their JSON form so the
// variant tag survives.
const (
	fieldColumn    = 1
	fieldValueJSON = 2
)

// EncodeSyncResponse serialises a response with protobuf wire
// encoding.
func EncodeSyncResponse(resp SyncResponse) ([]byte, error) {
	var b []byte

	for i := range resp.Deltas {
		msg, err := appendDelta(nil, &resp.Deltas[i])
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldDeltas, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}

	b = protowire.AppendTag(b, fieldServerHLC, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(resp.ServerHLC))

	b = protowire.AppendTag(b, fieldHasMore, protowire.VarintType)
	var hasMore uint64
	if resp.HasMore {
		hasMore = 1
	}
	b = protowire.AppendVarint(b, hasMore)

	return b, nil
}

func appendDelta(b []byte, d *delta.RowDelta) ([]byte, error) {
	b = protowire.AppendTag(b, fieldOp, protowire.BytesType)
	b = protowire.AppendString(b, string(d.Op))
	b = protowire.AppendTag(b, fieldTable, protowire.BytesType)
	b = protowire.AppendString(b, d.Table)
	b = protowire.AppendTag(b, fieldRowID, protowire.BytesType)
	b = protowire.AppendString(b, d.RowID)
	b = protowire.AppendTag(b, fieldClientID, protowire.BytesType)
	b = protowire.AppendString(b, d.ClientID)
	b = protowire.AppendTag(b, fieldHLC, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.HLC))
	b = protowire.AppendTag(b, fieldDeltaID, protowire.BytesType)
	b = protowire.AppendString(b, d.DeltaID)

	for i := range d.Columns {
		payload, err := d.Columns[i].Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("codec: encode column %s: %w", d.Columns[i].Column, err)
		}

		var col []byte
		col = protowire.AppendTag(col, fieldColumn, protowire.BytesType)
		col = protowire.AppendString(col, d.Columns[i].Column)
		col = protowire.AppendTag(col, fieldValueJSON, protowire.BytesType)
		col = protowire.AppendBytes(col, payload)

		b = protowire.AppendTag(b, fieldColumns, protowire.BytesType)
		b = protowire.AppendBytes(b, col)
	}

	return b, nil
}

// DecodeSyncResponse parses a wire payload. Unknown fields are
// skipped.
func DecodeSyncResponse(data []byte) (SyncResponse, error) {
	var resp SyncResponse

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return resp, fmt.Errorf("codec: sync response tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldDeltas && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return resp, fmt.Errorf("codec: delta message: %w", protowire.ParseError(m))
			}
			data = data[m:]

			d, err := decodeDelta(raw)
			if err != nil {
				return resp, err
			}
			resp.Deltas = append(resp.Deltas, d)

		case num == fieldServerHLC && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return resp, fmt.Errorf("codec: server hlc: %w", protowire.ParseError(m))
			}
			data = data[m:]
			resp.ServerHLC = hlc.Timestamp(v)

		case num == fieldHasMore && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return resp, fmt.Errorf("codec: has more: %w", protowire.ParseError(m))
			}
			data = data[m:]
			resp.HasMore = v != 0

		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return resp, fmt.Errorf("codec: field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}

	return resp, nil
}

func decodeDelta(data []byte) (delta.RowDelta, error) {
	var d delta.RowDelta

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return d, fmt.Errorf("codec: delta tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType && typ != protowire.VarintType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return d, fmt.Errorf("codec: delta field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}

		if typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return d, fmt.Errorf("codec: delta varint %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			if num == fieldHLC {
				d.HLC = hlc.Timestamp(v)
			}
			continue
		}

		raw, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return d, fmt.Errorf("codec: delta bytes %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]

		switch num {
		case fieldOp:
			d.Op = delta.Op(raw)
		case fieldTable:
			d.Table = string(raw)
		case fieldRowID:
			d.RowID = string(raw)
		case fieldClientID:
			d.ClientID = string(raw)
		case fieldDeltaID:
			d.DeltaID = string(raw)
		case fieldColumns:
			cv, err := decodeColumn(raw)
			if err != nil {
				return d, err
			}
			d.Columns = append(d.Columns, cv)
		}
	}

	return d, nil
}

func decodeColumn(data []byte) (delta.ColumnValue, error) {
	var cv delta.ColumnValue

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return cv, fmt.Errorf("codec: column tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return cv, fmt.Errorf("codec: column field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}

		raw, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return cv, fmt.Errorf("codec: column bytes %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]

		switch num {
		case fieldColumn:
			cv.Column = string(raw)
		case fieldValueJSON:
			if err := cv.Value.UnmarshalJSON(raw); err != nil {
				return cv, fmt.Errorf("codec: decode column value: %w", err)
			}
		}
	}

	return cv, nil
}
