// Package codec converts delta batches to and from their persisted
// and wire forms: the JSON flush envelope, schema-typed Parquet files,
// and the protobuf sync response carried by checkpoint chunks.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// envelopeVersion is the only envelope layout this build reads and
// writes.
const envelopeVersion = 1

// HLCRange is the closed clock interval a flushed file covers.
type HLCRange struct {
	Min hlc.Timestamp `json:"min"`
	Max hlc.Timestamp `json:"max"`
}

// FlushEnvelope is the JSON flush file layout. Clock values serialise
// as decimal strings.
type FlushEnvelope struct {
	Version    int              `json:"version"`
	GatewayID  string           `json:"gatewayId"`
	CreatedAt  time.Time        `json:"createdAt"`
	HLCRange   HLCRange         `json:"hlcRange"`
	DeltaCount int              `json:"deltaCount"`
	ByteSize   int              `json:"byteSize"`
	Deltas     []delta.RowDelta `json:"deltas"`
}

// NewFlushEnvelope assembles an envelope around a drained batch.
func NewFlushEnvelope(gatewayID string, deltas []delta.RowDelta, byteSize int) FlushEnvelope {
	return FlushEnvelope{
		Version:    envelopeVersion,
		GatewayID:  gatewayID,
		CreatedAt:  time.Now().UTC(),
		HLCRange:   RangeOf(deltas),
		DeltaCount: len(deltas),
		ByteSize:   byteSize,
		Deltas:     deltas,
	}
}

// RangeOf computes the clock interval covered by a batch.
func RangeOf(deltas []delta.RowDelta) HLCRange {
	var r HLCRange
	for i := range deltas {
		ts := deltas[i].HLC
		if r.Min == 0 || ts < r.Min {
			r.Min = ts
		}
		if ts > r.Max {
			r.Max = ts
		}
	}

	return r
}

// EncodeEnvelope serialises the envelope.
func EncodeEnvelope(env FlushEnvelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("codec: encode envelope: %w", err)
	}

	return data, nil
}

// DecodeEnvelope parses and version-checks a flushed JSON file.
func DecodeEnvelope(data []byte) (FlushEnvelope, error) {
	var env FlushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return FlushEnvelope{}, fmt.Errorf("codec: decode envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return FlushEnvelope{}, fmt.Errorf("codec: unsupported envelope version %d", env.Version)
	}

	return env, nil
}
