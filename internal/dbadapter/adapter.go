// Package dbadapter defines the database-backed source contract used
// for pull-through reads and direct delta persistence, a name-keyed
// registry of sources, and an embedded SQLite implementation.
package dbadapter

import (
	"context"
	"fmt"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// AdapterError wraps a database failure with the operation that
// produced it.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("dbadapter: %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Adapter is the database capability. Implementations declare it
// explicitly; consumers receive only this view from the registry.
type Adapter interface {
	// InsertDeltas persists a batch atomically. Re-inserting a delta
	// with the same (table, row, hlc) identity is a no-op.
	InsertDeltas(ctx context.Context, deltas []delta.RowDelta) error

	// QueryDeltasSince returns deltas with clocks strictly after
	// since, in ascending HLC order. A non-positive limit means
	// unbounded.
	QueryDeltasSince(ctx context.Context, since hlc.Timestamp, limit int) ([]delta.RowDelta, error)

	// GetLatestState folds a table's delta history into its current
	// row images, one synthesised delta per live row.
	GetLatestState(ctx context.Context, table string) ([]delta.RowDelta, error)

	// EnsureSchema records a table definition so later reads can
	// interpret stored values.
	EnsureSchema(ctx context.Context, ts schema.TableSchema) error

	Close() error
}
