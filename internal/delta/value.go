package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Kind discriminates the variants a column value can take.
type Kind int

// Value kinds, mirroring the JSON types a client may send.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindJSON:
		return "json"
	}

	return "unknown"
}

// Byte-size weights for the buffer's type-aware size heuristic.
const (
	nullWeight   = 1
	boolWeight   = 4
	numberWeight = 8
	stringWeight = 2 // per byte
)

// Value is a tagged union holding one column value. Clients send
// arbitrary JSON; the gateway pins each value to exactly one variant at
// the boundary so every later stage works with a closed set of types.
// The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  json.RawMessage // KindJSON: compacted object or array
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a 64-bit integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a 64-bit float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// JSON wraps a raw JSON object or array. The bytes are stored as given;
// callers should pass compacted JSON.
func JSON(raw json.RawMessage) Value { return Value{kind: KindJSON, raw: raw} }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolVal returns the boolean variant's payload. Valid only for KindBool.
func (v Value) BoolVal() bool { return v.b }

// IntVal returns the integer variant's payload. Valid only for KindInt.
func (v Value) IntVal() int64 { return v.i }

// FloatVal returns the float variant's payload. Valid only for KindFloat.
func (v Value) FloatVal() float64 { return v.f }

// StringVal returns the string variant's payload. Valid only for KindString.
func (v Value) StringVal() string { return v.s }

// RawJSON returns the JSON variant's payload. Valid only for KindJSON.
func (v Value) RawJSON() json.RawMessage { return v.raw }

// Equal reports whether two values hold the same variant and payload.
// JSON payloads compare byte-wise after compaction.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindJSON:
		return bytes.Equal(compactJSON(v.raw), compactJSON(o.raw))
	default:
		return false
	}
}

// EstimatedBytes returns the heuristic in-memory weight of the value,
// used for buffer backpressure accounting.
func (v Value) EstimatedBytes() int {
	switch v.kind {
	case KindBool:
		return boolWeight
	case KindInt, KindFloat:
		return numberWeight
	case KindString:
		return stringWeight * len(v.s)
	case KindJSON:
		return len(v.raw)
	default:
		return nullWeight
	}
}

// canonical renders the value for fingerprinting. Strings are
// NFC-normalised so clients disagreeing on Unicode composition still
// produce the same deltaId for the same logical content.
func (v Value) canonical() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(norm.NFC.String(v.s))
	case KindJSON:
		return string(compactJSON(v.raw))
	default:
		return "null"
	}
}

// MarshalJSON renders the value as plain JSON of the underlying type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindJSON:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	default:
		return nil, fmt.Errorf("delta: unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON pins arbitrary client JSON to one variant: null, bool,
// string, integral number, fractional number, or raw object/array.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = Null()
		return nil
	}

	switch trimmed[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return fmt.Errorf("delta: bad boolean value: %w", err)
		}
		*v = Bool(b)
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("delta: bad string value: %w", err)
		}
		*v = String(s)
	case '{', '[':
		*v = JSON(append(json.RawMessage(nil), trimmed...))
	default:
		var num json.Number
		if err := json.Unmarshal(trimmed, &num); err != nil {
			return fmt.Errorf("delta: bad numeric value: %w", err)
		}
		if i, err := num.Int64(); err == nil && !bytes.ContainsAny(trimmed, ".eE") {
			*v = Int(i)
			return nil
		}
		f, err := num.Float64()
		if err != nil {
			return fmt.Errorf("delta: bad numeric value %q: %w", num, err)
		}
		*v = Float(f)
	}

	return nil
}

// compactJSON removes insignificant whitespace. Invalid input is
// returned as-is; comparison and hashing then see the raw bytes.
func compactJSON(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}

	return buf.Bytes()
}
