// Package gateway implements the sync surface of one gateway
// instance: push ingestion with column-level last-writer-wins merging,
// pull with sync-rule filtering, the event stream hub, and the
// background flush loop.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakegate/lakegate/internal/buffer"
	"github.com/lakegate/lakegate/internal/dbadapter"
	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/flush"
	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// maxPushBatch bounds one push request.
const maxPushBatch = 10000

// ErrForbidden rejects a push whose body clientId contradicts the
// transport-bound identity.
var ErrForbidden = errors.New("gateway: client identity mismatch")

// BackpressureError rejects a whole push while the buffer is over its
// backpressure limit. Clients retry after the next flush.
type BackpressureError struct {
	BufferBytes int
	Limit       int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("gateway: buffer at %d bytes exceeds backpressure limit %d", e.BufferBytes, e.Limit)
}

// AdapterNotFoundError reports a pull against an unregistered source.
type AdapterNotFoundError struct {
	Source string
}

func (e *AdapterNotFoundError) Error() string {
	return fmt.Sprintf("gateway: source adapter %q not registered", e.Source)
}

// AdaptiveConfig shrinks the flush threshold under wide-row load so
// oversized buffers flush earlier.
type AdaptiveConfig struct {
	// WideColumnThreshold is the average delta size, in bytes, above
	// which the buffer counts as wide.
	WideColumnThreshold int

	// ReductionFactor scales MaxBufferBytes while wide. Must be in
	// (0, 1).
	ReductionFactor float64
}

// Config wires a Gateway.
type Config struct {
	GatewayID            string
	MaxBufferBytes       int           // flush threshold; default 4 MiB
	MaxBufferAge         time.Duration // flush threshold; default 30s
	MaxBackpressureBytes int           // push rejection level; default 2x MaxBufferBytes
	Adaptive             *AdaptiveConfig

	Buffer       *buffer.Buffer
	Clock        *hlc.Clock
	Schemas      *schema.Manager    // optional; enables schema validation on push
	Flusher      *flush.Coordinator // optional; enables the flush loop and admin flush
	Sources      *dbadapter.Registry
	Metrics      *metrics.Gateway // optional
	FlushMetrics *metrics.Flush   // optional
	Logger       *slog.Logger
}

// Gateway owns one buffer and serves the sync operations against it.
type Gateway struct {
	cfg          Config
	buffer       *buffer.Buffer
	clock        *hlc.Clock
	schemas      *schema.Manager
	flusher      *flush.Coordinator
	sources      *dbadapter.Registry
	metrics      *metrics.Gateway
	flushMetrics *metrics.Flush
	logger       *slog.Logger
	validate     delta.Validator
	hub          *hub

	// flushKick wakes the flush loop outside its timer, capacity 1.
	flushKick chan struct{}
}

func New(cfg *Config) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}
	if cfg.GatewayID == "" {
		return nil, fmt.Errorf("gateway: gateway ID is required")
	}
	if cfg.Buffer == nil {
		return nil, fmt.Errorf("gateway: buffer is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("gateway: clock is required")
	}
	if cfg.Adaptive != nil {
		if cfg.Adaptive.ReductionFactor <= 0 || cfg.Adaptive.ReductionFactor >= 1 {
			return nil, fmt.Errorf("gateway: adaptive reduction factor must be in (0, 1)")
		}
		if cfg.Adaptive.WideColumnThreshold <= 0 {
			return nil, fmt.Errorf("gateway: adaptive wide-column threshold must be positive")
		}
	}

	resolved := *cfg
	if resolved.MaxBufferBytes <= 0 {
		resolved.MaxBufferBytes = 4 << 20
	}
	if resolved.MaxBufferAge <= 0 {
		resolved.MaxBufferAge = 30 * time.Second
	}
	if resolved.MaxBackpressureBytes <= 0 {
		resolved.MaxBackpressureBytes = 2 * resolved.MaxBufferBytes
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}

	validators := []delta.Validator{delta.Shape(), delta.IdentifierSafety()}
	if resolved.Schemas != nil {
		validators = append(validators, resolved.Schemas.ValidateDelta)
	}

	g := &Gateway{
		cfg:          resolved,
		buffer:       resolved.Buffer,
		clock:        resolved.Clock,
		schemas:      resolved.Schemas,
		flusher:      resolved.Flusher,
		sources:      resolved.Sources,
		metrics:      resolved.Metrics,
		flushMetrics: resolved.FlushMetrics,
		logger:       resolved.Logger,
		validate:     delta.Pipeline(validators...),
		flushKick:    make(chan struct{}, 1),
	}
	g.hub = newHub(g)

	return g, nil
}

// ID returns the configured gateway identity.
func (g *Gateway) ID() string {
	return g.cfg.GatewayID
}

// Stats exposes buffer accounting for the admin surface.
func (g *Gateway) Stats() buffer.Stats {
	return g.buffer.Stats()
}

// effectiveMaxBufferBytes applies the adaptive reduction when the
// average staged delta is wider than the configured threshold.
func (g *Gateway) effectiveMaxBufferBytes() int {
	limit := g.cfg.MaxBufferBytes
	if g.cfg.Adaptive == nil {
		return limit
	}

	stats := g.buffer.Stats()
	if stats.LogSize == 0 {
		return limit
	}
	if stats.EstimatedBytes/stats.LogSize <= g.cfg.Adaptive.WideColumnThreshold {
		return limit
	}

	reduced := int(float64(limit) * g.cfg.Adaptive.ReductionFactor)
	if reduced < 1 {
		reduced = 1
	}

	return reduced
}

// shouldFlush reports whether the buffer crossed a flush threshold.
func (g *Gateway) shouldFlush() bool {
	return g.buffer.ShouldFlush(buffer.FlushPolicy{
		MaxBytes: g.effectiveMaxBufferBytes(),
		MaxAge:   g.cfg.MaxBufferAge,
	})
}

// kickFlush wakes the flush loop without waiting for its timer.
func (g *Gateway) kickFlush() {
	select {
	case g.flushKick <- struct{}{}:
	default:
	}
}
