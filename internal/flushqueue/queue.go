// Package flushqueue carries successfully flushed delta batches to
// materialisers. Three backends: a synchronous in-memory dispatcher, an
// object-store job writer for external consumers, and a durable local
// queue with an at-least-once background consumer.
package flushqueue

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/flush"
	"github.com/lakegate/lakegate/internal/schema"
)

// Materialiser consumes flushed deltas, typically by upserting them
// into a queryable per-table mirror.
type Materialiser interface {
	Materialise(ctx context.Context, entries []delta.RowDelta, schemas []schema.TableSchema) error
}

// FailureFunc is notified once per failing table. It must not block.
type FailureFunc func(table string, count int, err error)

// Memory dispatches synchronously to registered materialisers.
// Materialisation failures are logged and reported through the failure
// callback; Publish itself never fails.
type Memory struct {
	mu            sync.Mutex
	materialisers []Materialiser
	onFailure     FailureFunc

	logger *slog.Logger
}

func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Memory{logger: logger}
}

// Register adds a materialiser. Every registered materialiser sees
// every published batch.
func (q *Memory) Register(m Materialiser) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.materialisers = append(q.materialisers, m)
}

// OnFailure installs the per-table failure callback.
func (q *Memory) OnFailure(fn FailureFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.onFailure = fn
}

// Publish splits entries by table and feeds each group to every
// materialiser in registration order.
func (q *Memory) Publish(ctx context.Context, entries []delta.RowDelta, meta flush.QueueMetadata) error {
	if len(entries) == 0 {
		return nil
	}

	q.mu.Lock()
	materialisers := slices.Clone(q.materialisers)
	onFailure := q.onFailure
	q.mu.Unlock()

	for _, table := range tableOrder(entries) {
		group := tableGroup(entries, table)
		for _, m := range materialisers {
			if err := m.Materialise(ctx, group, meta.Schemas); err != nil {
				q.logger.Warn("flushqueue: materialise failed",
					slog.String("table", table),
					slog.Int("count", len(group)),
					slog.String("error", err.Error()))
				if onFailure != nil {
					onFailure(table, len(group), err)
				}
			}
		}
	}

	return nil
}

// tableOrder returns the distinct tables of a batch in first-seen
// order, so dispatch order tracks arrival order.
func tableOrder(entries []delta.RowDelta) []string {
	seen := make(map[string]struct{}, 4)
	var order []string
	for i := range entries {
		if _, ok := seen[entries[i].Table]; ok {
			continue
		}
		seen[entries[i].Table] = struct{}{}
		order = append(order, entries[i].Table)
	}

	return order
}

func tableGroup(entries []delta.RowDelta, table string) []delta.RowDelta {
	var group []delta.RowDelta
	for i := range entries {
		if entries[i].Table == table {
			group = append(group, entries[i])
		}
	}

	return group
}

var _ flush.Queue = (*Memory)(nil)
