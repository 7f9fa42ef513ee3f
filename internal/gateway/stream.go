package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/syncrules"
	"github.com/lakegate/lakegate/pkg/hlc"
)

const (
	heartbeatInterval  = 30 * time.Second
	streamBatchLimit   = 500
	streamWriteTimeout = 10 * time.Second
)

// StreamConn is the transport surface one subscriber writes frames to.
// The server wraps a websocket connection in this.
type StreamConn interface {
	WriteFrame(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
}

// StreamFrame is one event batch pushed to a subscriber.
type StreamFrame struct {
	Deltas    []delta.RowDelta `json:"deltas"`
	ServerHLC hlc.Timestamp    `json:"serverHlc"`
}

type subscriber struct {
	// notify has capacity 1: a slow subscriber coalesces pushes
	// instead of queueing them.
	notify chan struct{}
}

type hub struct {
	g    *Gateway
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newHub(g *Gateway) *hub {
	return &hub{g: g, subs: make(map[*subscriber]struct{})}
}

func (h *hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	if h.g.metrics != nil {
		h.g.metrics.Subscribers.Set(float64(count))
	}
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	count := len(h.subs)
	h.mu.Unlock()

	if h.g.metrics != nil {
		h.g.metrics.Subscribers.Set(float64(count))
	}
}

func (h *hub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// Stream serves one subscriber until the context ends or the
// connection fails. Each subscriber drains from its own cursor, so
// slow consumers never block ingestion; they only fall behind within
// the buffer's retention.
func (g *Gateway) Stream(ctx context.Context, conn StreamConn, since hlc.Timestamp, rules *syncrules.Context) error {
	sub := &subscriber{notify: make(chan struct{}, 1)}
	g.hub.add(sub)
	defer g.hub.remove(sub)

	// Catch-up pass so a reconnecting client sees events that landed
	// while it was away, before waiting for the next push.
	cursor := since
	if err := g.drainTo(ctx, conn, &cursor, rules); err != nil {
		return err
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("gateway: stream ping: %w", err)
			}
		case <-sub.notify:
			if err := g.drainTo(ctx, conn, &cursor, rules); err != nil {
				return err
			}
		}
	}
}

// drainTo writes everything after the cursor as filtered JSON frames
// and advances the cursor past every examined event.
func (g *Gateway) drainTo(ctx context.Context, conn StreamConn, cursor *hlc.Timestamp, rules *syncrules.Context) error {
	for {
		raw, more := g.buffer.EventsSince(*cursor, streamBatchLimit)
		if len(raw) == 0 {
			return nil
		}
		*cursor = raw[len(raw)-1].HLC

		filtered := syncrules.FilterDeltas(raw, rules)
		if len(filtered) > 0 {
			frame, err := json.Marshal(StreamFrame{Deltas: filtered, ServerHLC: g.clock.Now()})
			if err != nil {
				return fmt.Errorf("gateway: encode stream frame: %w", err)
			}

			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err = conn.WriteFrame(writeCtx, frame)
			cancel()
			if err != nil {
				return fmt.Errorf("gateway: stream write: %w", err)
			}
		}

		if !more {
			return nil
		}
	}
}
