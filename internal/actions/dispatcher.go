package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/syncrules"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// Dispatcher validates, deduplicates, and routes action batches.
type Dispatcher struct {
	handlers map[string]Handler
	cache    Cache
	clock    *hlc.Clock
	metrics  *metrics.Actions
	logger   *slog.Logger
}

// DispatcherConfig wires a Dispatcher. Handlers are keyed by connector
// name.
type DispatcherConfig struct {
	Handlers map[string]Handler
	Cache    Cache
	Clock    *hlc.Clock
	Metrics  *metrics.Actions
	Logger   *slog.Logger
}

func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("actions: dispatcher requires a clock")
	}

	d := &Dispatcher{
		handlers: cfg.Handlers,
		cache:    cfg.Cache,
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if d.handlers == nil {
		d.handlers = map[string]Handler{}
	}
	if d.cache == nil {
		d.cache = NewMemoryCache(0, 0)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d, nil
}

// Dispatch processes a batch in order. A structurally invalid action
// fails the whole batch before any handler runs; execution failures
// are per-action results.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []Action, auth *syncrules.Context) (*Response, error) {
	for i := range batch {
		if err := validateAction(i, &batch[i]); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(batch))
	for i := range batch {
		results = append(results, d.dispatchOne(ctx, &batch[i], auth))
	}

	return &Response{Results: results, ServerHLC: d.clock.Now()}, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, a *Action, auth *syncrules.Context) Result {
	if res, ok := d.lookup(ctx, a.ActionID); ok {
		d.cacheHit()
		d.logger.Debug("actions: cache hit", slog.String("actionId", a.ActionID))
		return res
	}
	if a.IdempotencyKey != "" {
		if res, ok := d.lookup(ctx, IdemPrefix+a.IdempotencyKey); ok {
			d.cacheHit()
			d.logger.Debug("actions: idempotency hit",
				slog.String("actionId", a.ActionID),
				slog.String("idempotencyKey", a.IdempotencyKey))
			return res
		}
	}

	handler, ok := d.handlers[a.Connector]
	if !ok || !handler.Supports(a.ActionType) {
		res := Result{
			ActionID: a.ActionID,
			Status:   StatusNotSupported,
			Error:    fmt.Sprintf("connector %q does not support %q", a.Connector, a.ActionType),
		}
		d.store(ctx, a, res)

		return res
	}

	if d.metrics != nil {
		d.metrics.Dispatched.Inc()
	}

	output, err := handler.ExecuteAction(ctx, *a, auth)
	if err != nil {
		res := Result{ActionID: a.ActionID, Status: StatusError, Error: err.Error(), Retryable: retryable(err)}
		// Retryable failures stay uncached so a retry reaches the
		// handler again.
		if !res.Retryable {
			d.store(ctx, a, res)
		}
		d.logger.Warn("actions: handler failed",
			slog.String("actionId", a.ActionID),
			slog.String("connector", a.Connector),
			slog.Bool("retryable", res.Retryable),
			slog.String("error", err.Error()))

		return res
	}

	res := Result{ActionID: a.ActionID, Status: StatusOK, Output: output}
	d.store(ctx, a, res)

	return res
}

func (d *Dispatcher) cacheHit() {
	if d.metrics != nil {
		d.metrics.CacheHits.Inc()
	}
}

// lookup treats cache backend failures as misses.
func (d *Dispatcher) lookup(ctx context.Context, key string) (Result, bool) {
	res, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("actions: cache lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		return Result{}, false
	}

	return res, ok
}

func (d *Dispatcher) store(ctx context.Context, a *Action, res Result) {
	if err := d.cache.Set(ctx, a.ActionID, res); err != nil {
		d.logger.Warn("actions: cache store failed", slog.String("actionId", a.ActionID), slog.String("error", err.Error()))
	}
	if a.IdempotencyKey == "" {
		return
	}
	if err := d.cache.Set(ctx, IdemPrefix+a.IdempotencyKey, res); err != nil {
		d.logger.Warn("actions: cache store failed", slog.String("idempotencyKey", a.IdempotencyKey), slog.String("error", err.Error()))
	}
}

// retryable inspects handler errors. Failures without an explicit
// ExecutionError flag count as retryable and stay uncached.
func retryable(err error) bool {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Retryable
	}

	return true
}
