package gateway

import (
	"context"
	"log/slog"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/syncrules"
	"github.com/lakegate/lakegate/pkg/hlc"
)

const (
	// overFetchFactor compensates for rows the caller's sync rules
	// filter away: each round reads this many times the requested
	// page from the raw stream.
	overFetchFactor = 3

	// maxPullRounds bounds the over-fetch loop for heavily filtered
	// callers.
	maxPullRounds = 5

	defaultPullLimit = 1000
)

// SyncPull requests events after a cursor.
type SyncPull struct {
	ClientID  string        `json:"clientId"`
	SinceHLC  hlc.Timestamp `json:"sinceHlc"`
	MaxDeltas int           `json:"maxDeltas"`
	Source    string        `json:"source,omitempty"`
}

// PullResult is one page of events. HasMore tells the client to pull
// again from the HLC of the last delta received.
type PullResult struct {
	Deltas    []delta.RowDelta `json:"deltas"`
	ServerHLC hlc.Timestamp    `json:"serverHlc"`
	HasMore   bool             `json:"hasMore"`
}

// Pull serves a page from the live buffer, or from a registered source
// adapter when the request names one. The rules context, when present,
// filters every returned delta.
func (g *Gateway) Pull(ctx context.Context, req *SyncPull, rules *syncrules.Context) (*PullResult, error) {
	limit := req.MaxDeltas
	if limit <= 0 {
		limit = defaultPullLimit
	}

	if g.metrics != nil {
		g.metrics.Pulls.Inc()
	}

	if req.Source != "" {
		return g.pullFromSource(ctx, req, limit, rules)
	}

	return g.pullFromBuffer(req, limit, rules), nil
}

func (g *Gateway) pullFromBuffer(req *SyncPull, limit int, rules *syncrules.Context) *PullResult {
	cursor := req.SinceHLC
	var out []delta.RowDelta
	hasMore := false

	for range maxPullRounds {
		raw, more := g.buffer.EventsSince(cursor, limit*overFetchFactor)
		out = append(out, syncrules.FilterDeltas(raw, rules)...)
		if len(raw) > 0 {
			cursor = raw[len(raw)-1].HLC
		}

		if len(out) >= limit {
			out = out[:limit]
			hasMore = true
			break
		}
		if !more {
			hasMore = false
			break
		}

		// Raw events remain past this round's window; if the round
		// budget runs out here the client must pull again.
		hasMore = true
	}

	g.logger.Debug("gateway: pull served",
		slog.String("clientId", req.ClientID),
		slog.String("since", req.SinceHLC.String()),
		slog.Int("deltas", len(out)),
		slog.Bool("hasMore", hasMore))

	return &PullResult{Deltas: out, ServerHLC: g.clock.Now(), HasMore: hasMore}
}

func (g *Gateway) pullFromSource(ctx context.Context, req *SyncPull, limit int, rules *syncrules.Context) (*PullResult, error) {
	if g.sources == nil {
		return nil, &AdapterNotFoundError{Source: req.Source}
	}
	adapter, ok := g.sources.Get(req.Source)
	if !ok {
		return nil, &AdapterNotFoundError{Source: req.Source}
	}

	// One extra row makes the next page observable.
	raw, err := adapter.QueryDeltasSince(ctx, req.SinceHLC, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(raw) > limit
	if hasMore {
		raw = raw[:limit]
	}

	return &PullResult{
		Deltas:    syncrules.FilterDeltas(raw, rules),
		ServerHLC: g.clock.Now(),
		HasMore:   hasMore,
	}, nil
}
