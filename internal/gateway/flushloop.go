package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakegate/lakegate/internal/flush"
)

// flushCheckInterval paces the age-based policy check between kicks.
const flushCheckInterval = time.Second

// Run drives background flushes until the context ends. The flush
// policy is evaluated on a short timer and immediately after any push
// that crosses a threshold.
func (g *Gateway) Run(ctx context.Context) error {
	if g.flusher == nil {
		g.logger.Debug("flush loop idle: no flush target configured")
		return nil
	}

	g.logger.Info("flush loop started",
		slog.String("gateway_id", g.cfg.GatewayID),
		slog.Int("max_buffer_bytes", g.cfg.MaxBufferBytes),
		slog.Duration("max_buffer_age", g.cfg.MaxBufferAge))

	ticker := time.NewTicker(flushCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("flush loop stopping")
			return nil
		case <-ticker.C:
		case <-g.flushKick:
		}

		if !g.shouldFlush() {
			continue
		}

		res, err := g.FlushNow(ctx)
		switch {
		case errors.Is(err, flush.ErrInProgress):
			// Another caller is already draining this buffer.
		case err != nil:
			g.logger.Error("background flush failed", slog.String("error", err.Error()))
		case res.Deltas > 0:
			g.logger.Info("background flush completed",
				slog.Int("deltas", res.Deltas),
				slog.Int("bytes", res.Bytes),
				slog.String("object_key", res.ObjectKey))
		}
	}
}

// FlushNow drains the whole buffer once. The admin surface and the
// flush loop share this path so both are observed the same way.
func (g *Gateway) FlushNow(ctx context.Context) (*flush.Result, error) {
	if g.flusher == nil {
		return nil, fmt.Errorf("gateway: no flush target configured")
	}

	return g.observeFlush(func() (*flush.Result, error) {
		return g.flusher.Flush(ctx)
	})
}

// FlushTableNow drains one table's staged deltas.
func (g *Gateway) FlushTableNow(ctx context.Context, table string) (*flush.Result, error) {
	if g.flusher == nil {
		return nil, fmt.Errorf("gateway: no flush target configured")
	}

	return g.observeFlush(func() (*flush.Result, error) {
		return g.flusher.FlushTable(ctx, table)
	})
}

func (g *Gateway) observeFlush(fn func() (*flush.Result, error)) (*flush.Result, error) {
	start := time.Now()
	res, err := fn()
	if errors.Is(err, flush.ErrInProgress) {
		return res, err
	}

	if g.flushMetrics != nil {
		g.flushMetrics.Duration.Observe(time.Since(start).Seconds())
		if err != nil {
			g.flushMetrics.Failures.Inc()
		} else {
			g.flushMetrics.Flushes.Inc()
			g.flushMetrics.Bytes.Add(float64(res.Bytes))
		}
	}

	if err == nil && g.metrics != nil {
		g.metrics.BufferBytes.Set(float64(g.buffer.EstimatedBytes()))
	}

	return res, err
}
