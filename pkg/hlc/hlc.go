// Package hlc implements the hybrid logical clock used to order row
// deltas across gateways and clients.
//
// A timestamp packs a wall-clock reading and a logical counter into a
// single unsigned 64-bit value: the upper 48 bits hold milliseconds
// since the Unix epoch, the lower 16 bits hold the counter.  Unsigned
// comparison of two timestamps therefore yields the clock's total
// order, which approximately tracks wall time.
package hlc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// counterBits is the width of the logical counter field.
	counterBits = 16

	// counterMask isolates the logical counter from a packed timestamp.
	counterMask = 1<<counterBits - 1
)

// Timestamp is a packed hybrid logical clock reading.
// The zero value sorts before every real timestamp.
type Timestamp uint64

// Encode packs a wall-clock reading in milliseconds and a logical
// counter into a Timestamp.
func Encode(wallMillis int64, counter uint16) Timestamp {
	return Timestamp(uint64(wallMillis)<<counterBits | uint64(counter))
}

// WallMillis returns the wall-clock component in milliseconds since
// the Unix epoch.
func (t Timestamp) WallMillis() int64 {
	return int64(t >> counterBits)
}

// Counter returns the logical counter component.
func (t Timestamp) Counter() uint16 {
	return uint16(t & counterMask)
}

// Compare returns -1 if a sorts before b, +1 if after, 0 if equal.
func Compare(a, b Timestamp) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String renders the timestamp as its decimal wire form.
func (t Timestamp) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// Parse reads a decimal wire-form timestamp.
func Parse(s string) (Timestamp, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("hlc: parse %q: %w", s, err)
	}

	return Timestamp(v), nil
}

// MarshalJSON encodes the timestamp as a decimal string. Plain JSON
// numbers lose precision past 2^53, so the wire form is always quoted.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts either the quoted decimal wire form or a bare
// number emitted by lenient producers.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := Parse(s)
		if perr != nil {
			return perr
		}
		*t = parsed

		return nil
	}

	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("hlc: timestamp must be a decimal string or number: %w", err)
	}
	*t = Timestamp(n)

	return nil
}
