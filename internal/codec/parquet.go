package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// Metadata columns carried alongside the table's own columns. A user
// column with one of these names cannot be represented; the writer
// skips it.
const (
	metaOp       = "_op"
	metaTable    = "_table"
	metaRowID    = "_row_id"
	metaClientID = "_client_id"
	metaHLC      = "_hlc"
	metaDeltaID  = "_delta_id"
)

var metaColumns = map[string]bool{
	metaOp: true, metaTable: true, metaRowID: true,
	metaClientID: true, metaHLC: true, metaDeltaID: true,
}

// parquetSchema builds the flat file layout: required metadata
// columns plus one optional, typed column per declared table column.
func parquetSchema(ts schema.TableSchema) *parquet.Schema {
	group := parquet.Group{
		metaOp:       parquet.String(),
		metaTable:    parquet.String(),
		metaRowID:    parquet.String(),
		metaClientID: parquet.String(),
		metaHLC:      parquet.Int(64),
		metaDeltaID:  parquet.String(),
	}

	for _, col := range ts.Columns {
		if metaColumns[col.Name] {
			continue
		}
		group[col.Name] = parquet.Optional(columnNode(col.Type))
	}

	return parquet.NewSchema(ts.Table, group)
}

func columnNode(t schema.ColumnType) parquet.Node {
	switch t {
	case schema.TypeNumber:
		return parquet.Leaf(parquet.DoubleType)
	case schema.TypeBoolean:
		return parquet.Leaf(parquet.BooleanType)
	case schema.TypeJSON:
		return parquet.JSON()
	default:
		// Strings, and null-typed columns that never carry data.
		return parquet.String()
	}
}

// WriteDeltas serialises a batch as one Parquet file typed by the
// table schema. Columns absent from the schema are dropped; null
// values become null cells.
func WriteDeltas(deltas []delta.RowDelta, ts schema.TableSchema) ([]byte, error) {
	fileSchema := parquetSchema(ts)

	declared := make(map[string]schema.ColumnType, len(ts.Columns))
	for _, col := range ts.Columns {
		declared[col.Name] = col.Type
	}

	rows := make([]parquet.Row, 0, len(deltas))
	for i := range deltas {
		rows = append(rows, fileSchema.Deconstruct(nil, rowValues(&deltas[i], declared)))
	}

	buf := new(bytes.Buffer)
	w := parquet.NewGenericWriter[any](buf, fileSchema)

	if _, err := w.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("codec: write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: close parquet writer: %w", err)
	}

	return buf.Bytes(), nil
}

// rowValues flattens one delta into the file's column map. Missing
// keys deconstruct as nulls.
func rowValues(d *delta.RowDelta, declared map[string]schema.ColumnType) map[string]any {
	row := map[string]any{
		metaOp:       string(d.Op),
		metaTable:    d.Table,
		metaRowID:    d.RowID,
		metaClientID: d.ClientID,
		metaHLC:      int64(d.HLC),
		metaDeltaID:  d.DeltaID,
	}

	for _, cv := range d.Columns {
		colType, ok := declared[cv.Column]
		if !ok || metaColumns[cv.Column] {
			continue
		}
		if cv.Value.IsNull() {
			continue
		}

		switch colType {
		case schema.TypeNumber:
			if cv.Value.Kind() == delta.KindInt {
				row[cv.Column] = float64(cv.Value.IntVal())
			} else if cv.Value.Kind() == delta.KindFloat {
				row[cv.Column] = cv.Value.FloatVal()
			}
		case schema.TypeBoolean:
			if cv.Value.Kind() == delta.KindBool {
				row[cv.Column] = cv.Value.BoolVal()
			}
		case schema.TypeJSON:
			if cv.Value.Kind() == delta.KindJSON {
				row[cv.Column] = string(cv.Value.RawJSON())
			}
		case schema.TypeString:
			if cv.Value.Kind() == delta.KindString {
				row[cv.Column] = cv.Value.StringVal()
			}
		}
	}

	return row
}

// ReadDeltas parses a Parquet file produced by WriteDeltas back into
// deltas, recovering column variants from the file's logical types.
func ReadDeltas(data []byte) ([]delta.RowDelta, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("codec: open parquet file: %w", err)
	}

	fileSchema := file.Schema()

	// Flat layout: every leaf path has exactly one element.
	paths := fileSchema.Columns()
	names := make([]string, len(paths))
	for i, p := range paths {
		if len(p) != 1 {
			return nil, fmt.Errorf("codec: unexpected nested column %v", p)
		}
		names[i] = p[0]
	}

	jsonColumns := make(map[string]bool)
	for _, field := range fileSchema.Fields() {
		if lt := field.Type().LogicalType(); lt != nil && lt.Json != nil {
			jsonColumns[field.Name()] = true
		}
	}

	var out []delta.RowDelta

	for _, rowGroup := range file.RowGroups() {
		rows := rowGroup.Rows()

		buf := make([]parquet.Row, 64)
		for {
			n, readErr := rows.ReadRows(buf)
			for i := 0; i < n; i++ {
				d, convErr := rowToDelta(buf[i], names, jsonColumns)
				if convErr != nil {
					rows.Close()
					return nil, convErr
				}
				out = append(out, d)
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				rows.Close()
				return nil, fmt.Errorf("codec: read parquet rows: %w", readErr)
			}
		}

		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("codec: close parquet rows: %w", err)
		}
	}

	return out, nil
}

func rowToDelta(row parquet.Row, names []string, jsonColumns map[string]bool) (delta.RowDelta, error) {
	var d delta.RowDelta

	for _, v := range row {
		if v.IsNull() {
			continue
		}

		col := v.Column()
		if col < 0 || col >= len(names) {
			return d, fmt.Errorf("codec: value references unknown column %d", col)
		}
		name := names[col]

		switch name {
		case metaOp:
			d.Op = delta.Op(v.String())
		case metaTable:
			d.Table = v.String()
		case metaRowID:
			d.RowID = v.String()
		case metaClientID:
			d.ClientID = v.String()
		case metaHLC:
			d.HLC = hlc.Timestamp(v.Int64())
		case metaDeltaID:
			d.DeltaID = v.String()
		default:
			d.Columns = append(d.Columns, delta.ColumnValue{
				Column: name,
				Value:  parquetValue(v, jsonColumns[name]),
			})
		}
	}

	return d, nil
}

func parquetValue(v parquet.Value, isJSON bool) delta.Value {
	switch v.Kind() {
	case parquet.Boolean:
		return delta.Bool(v.Boolean())
	case parquet.Int64:
		return delta.Int(v.Int64())
	case parquet.Double:
		return delta.Float(v.Double())
	case parquet.ByteArray:
		if isJSON {
			return delta.JSON(append([]byte(nil), v.ByteArray()...))
		}
		return delta.String(v.String())
	default:
		return delta.Null()
	}
}
