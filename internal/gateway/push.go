package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// SyncPush is one client batch.
type SyncPush struct {
	ClientID    string           `json:"clientId"`
	Deltas      []delta.RowDelta `json:"deltas"`
	LastSeenHLC hlc.Timestamp    `json:"lastSeenHlc,omitempty"`
}

// PushResult reports what ingestion did with a batch. Deltas carries
// the post-merge records as appended; purely idempotent duplicates are
// counted in Accepted but not repeated here.
type PushResult struct {
	ServerHLC hlc.Timestamp    `json:"serverHlc"`
	Accepted  int              `json:"accepted"`
	Deltas    []delta.RowDelta `json:"deltas"`
}

// Push ingests a batch in order: dedup, validate, clock receive, merge
// against the row index, append. A failure at delta N leaves deltas
// before N buffered; deltaId dedup makes the client's retry safe.
func (g *Gateway) Push(ctx context.Context, req *SyncPush, boundClientID string) (*PushResult, error) {
	if boundClientID != "" && req.ClientID != boundClientID {
		return nil, ErrForbidden
	}
	if len(req.Deltas) > maxPushBatch {
		return nil, &delta.ValidationError{
			Field:  "deltas",
			Reason: fmt.Sprintf("batch of %d exceeds limit %d", len(req.Deltas), maxPushBatch),
		}
	}

	if bytes := g.buffer.EstimatedBytes(); bytes > g.cfg.MaxBackpressureBytes {
		if g.metrics != nil {
			g.metrics.Backpressure.Inc()
		}
		g.kickFlush()

		return nil, &BackpressureError{BufferBytes: bytes, Limit: g.cfg.MaxBackpressureBytes}
	}

	accepted := 0
	ingested := make([]delta.RowDelta, 0, len(req.Deltas))
	for i := range req.Deltas {
		d := req.Deltas[i]

		if g.buffer.HasDelta(d.DeltaID) {
			accepted++
			if g.metrics != nil {
				g.metrics.DedupHits.Inc()
			}
			continue
		}

		if err := g.validate(&d); err != nil {
			return nil, err
		}
		if _, err := g.clock.Recv(d.HLC); err != nil {
			return nil, err
		}

		if existing, ok := g.buffer.GetRow(d.Key()); ok {
			sourceID := d.DeltaID
			d = delta.Merge(&existing, &d)
			// Merge is a fixed point: re-applying an already merged
			// delta reproduces the buffered record. Catching that here
			// keeps retries no-ops even when the original id fell out
			// of the dedup set (e.g. after a restore).
			if g.buffer.HasDelta(d.DeltaID) {
				accepted++
				if g.metrics != nil {
					g.metrics.DedupHits.Inc()
				}
				continue
			}
			g.buffer.AppendWithSource(d, sourceID)
		} else {
			g.buffer.Append(d)
		}
		ingested = append(ingested, d)
		accepted++
	}

	if g.metrics != nil {
		g.metrics.Pushes.Inc()
		g.metrics.DeltasIngested.Add(float64(len(ingested)))
		g.metrics.BufferBytes.Set(float64(g.buffer.EstimatedBytes()))
	}

	if len(ingested) > 0 {
		g.hub.notify()
	}
	if g.shouldFlush() {
		g.kickFlush()
	}

	g.logger.Debug("gateway: push ingested",
		slog.String("clientId", req.ClientID),
		slog.Int("received", len(req.Deltas)),
		slog.Int("accepted", accepted),
		slog.Int("merged", len(ingested)))

	return &PushResult{ServerHLC: g.clock.Now(), Accepted: accepted, Deltas: ingested}, nil
}
