// Package buffer implements the in-memory staging area for row deltas
// between push and flush: an append-only log in clock order, a row
// index for O(1) conflict lookup, and per-table accounting.
package buffer

import (
	"sort"
	"sync"
	"time"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// TableStat summarises one table's share of the buffer.
type TableStat struct {
	Count int
	Bytes int
}

// Stats is a point-in-time summary of the buffer.
type Stats struct {
	LogSize        int
	EstimatedBytes int
	CreatedAt      time.Time
	Tables         map[string]TableStat
}

// Snapshot is an immutable copy of the full buffer contents, taken
// under the writer lock so it is internally consistent.
type Snapshot struct {
	Log            []delta.RowDelta
	Index          map[delta.RowKey]delta.RowDelta
	DeltaIDs       map[string]struct{}
	EstimatedBytes int
	CreatedAt      time.Time
	TableBytes     map[string]int
	TableLog       map[string][]delta.RowDelta
}

// FlushPolicy decides when the buffer content should be persisted.
type FlushPolicy struct {
	MaxBytes int
	MaxAge   time.Duration
}

// Buffer stages deltas between push and flush. All methods are safe
// for concurrent use; mutations run inside one short critical section
// so observers always see a complete state.
type Buffer struct {
	mu         sync.RWMutex
	log        []delta.RowDelta
	index      map[delta.RowKey]delta.RowDelta
	deltaIDs   map[string]struct{}
	bytes      int
	createdAt  time.Time // first append since the last drain; zero when empty
	tableBytes map[string]int
	tableLog   map[string][]delta.RowDelta
	sourceIDs  map[string][]string // merged record id -> pre-merge ids it covers
}

// New returns an empty buffer.
func New() *Buffer {
	b := &Buffer{}
	b.reset()

	return b
}

func (b *Buffer) reset() {
	b.log = nil
	b.index = make(map[delta.RowKey]delta.RowDelta)
	b.deltaIDs = make(map[string]struct{})
	b.bytes = 0
	b.createdAt = time.Time{}
	b.tableBytes = make(map[string]int)
	b.tableLog = make(map[string][]delta.RowDelta)
	b.sourceIDs = make(map[string][]string)
}

// Append adds one delta to the log and points the row index at it.
// Duplicate deltaIds are appended verbatim; deduplication is the
// ingestion coordinator's responsibility, the log records physical
// calls.
func (b *Buffer) Append(d delta.RowDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.appendLocked(d)
}

// AppendWithSource adds one delta like Append and additionally records
// sourceID in the dedup set. A merged record carries a fresh
// fingerprint; registering the pre-merge id keeps a client retry of the
// original delta recognisable as already ingested.
func (b *Buffer) AppendWithSource(d delta.RowDelta, sourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.appendLocked(d)
	if sourceID != "" && sourceID != d.DeltaID {
		b.deltaIDs[sourceID] = struct{}{}
		b.sourceIDs[d.DeltaID] = append(b.sourceIDs[d.DeltaID], sourceID)
	}
}

func (b *Buffer) appendLocked(d delta.RowDelta) {
	if len(b.log) == 0 {
		b.createdAt = time.Now()
	}
	size := d.EstimatedBytes()

	b.log = append(b.log, d)
	b.index[d.Key()] = d
	b.deltaIDs[d.DeltaID] = struct{}{}
	b.bytes += size
	b.tableBytes[d.Table] += size
	b.tableLog[d.Table] = append(b.tableLog[d.Table], d)
}

// Restore puts previously drained deltas back at the front of the log.
// Drained entries always carry clocks at or below anything appended
// since, so prepending preserves the log's clock ordering.
func (b *Buffer) Restore(entries []delta.RowDelta) {
	if len(entries) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tail := b.log
	b.log = append(append(make([]delta.RowDelta, 0, len(entries)+len(tail)), entries...), tail...)

	restoredKeys := make(map[delta.RowKey]bool, len(entries))
	perTable := make(map[string][]delta.RowDelta)
	for i := range entries {
		d := &entries[i]
		size := d.EstimatedBytes()
		b.bytes += size
		b.tableBytes[d.Table] += size
		b.deltaIDs[d.DeltaID] = struct{}{}
		perTable[d.Table] = append(perTable[d.Table], *d)

		// The index must keep the newest delta per row: anything appended
		// after the drain beats a restored entry, and among restored
		// entries the later one wins.
		key := d.Key()
		if _, taken := b.index[key]; !taken || restoredKeys[key] {
			b.index[key] = *d
			restoredKeys[key] = true
		}
	}
	for table, block := range perTable {
		b.tableLog[table] = append(block, b.tableLog[table]...)
	}
	if b.createdAt.IsZero() {
		b.createdAt = time.Now()
	}
}

// GetRow returns the newest delta for the row, if any.
func (b *Buffer) GetRow(key delta.RowKey) (delta.RowDelta, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d, ok := b.index[key]

	return d, ok
}

// HasDelta reports whether a delta with this id is currently buffered.
func (b *Buffer) HasDelta(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.deltaIDs[id]

	return ok
}

// EventsSince returns up to limit deltas with clocks strictly greater
// than since, in log order, and whether more remain. The log is
// non-decreasing in clock order, so a binary search finds the start.
func (b *Buffer) EventsSince(since hlc.Timestamp, limit int) ([]delta.RowDelta, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := sort.Search(len(b.log), func(i int) bool { return b.log[i].HLC > since })
	if start >= len(b.log) || limit <= 0 {
		return nil, false
	}

	end := start + limit
	hasMore := end < len(b.log)
	if !hasMore {
		end = len(b.log)
	}

	// The log is append-only, so handing out a sub-slice is safe: the
	// region [start:end) is never rewritten.
	return b.log[start:end:end], hasMore
}

// ShouldFlush reports whether the buffer has content that exceeds the
// policy's size or age threshold.
func (b *Buffer) ShouldFlush(policy FlushPolicy) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.log) == 0 {
		return false
	}
	if policy.MaxBytes > 0 && b.bytes >= policy.MaxBytes {
		return true
	}
	if policy.MaxAge > 0 && time.Since(b.createdAt) >= policy.MaxAge {
		return true
	}

	return false
}

// Stats returns a consistent summary of the buffer.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tables := make(map[string]TableStat, len(b.tableLog))
	for table, log := range b.tableLog {
		tables[table] = TableStat{Count: len(log), Bytes: b.tableBytes[table]}
	}

	return Stats{
		LogSize:        len(b.log),
		EstimatedBytes: b.bytes,
		CreatedAt:      b.createdAt,
		Tables:         tables,
	}
}

// EstimatedBytes returns the current heuristic size of the buffer.
func (b *Buffer) EstimatedBytes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bytes
}

// Len returns the number of log entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.log)
}

// Drain atomically removes and returns the whole log together with its
// estimated byte size. The buffer is empty afterwards.
func (b *Buffer) Drain() ([]delta.RowDelta, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, bytes := b.log, b.bytes
	b.reset()

	return entries, bytes
}

// DrainTable removes and returns only one table's deltas, preserving
// log order for everything left behind.
func (b *Buffer) DrainTable(table string) ([]delta.RowDelta, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := b.tableLog[table]
	if len(drained) == 0 {
		return nil, 0
	}
	bytes := b.tableBytes[table]

	kept := make([]delta.RowDelta, 0, len(b.log)-len(drained))
	for i := range b.log {
		if b.log[i].Table == table {
			continue
		}
		kept = append(kept, b.log[i])
	}
	b.log = kept
	for i := range drained {
		delete(b.index, drained[i].Key())
		delete(b.deltaIDs, drained[i].DeltaID)
		for _, src := range b.sourceIDs[drained[i].DeltaID] {
			delete(b.deltaIDs, src)
		}
		delete(b.sourceIDs, drained[i].DeltaID)
	}
	b.bytes -= bytes
	delete(b.tableBytes, table)
	delete(b.tableLog, table)
	if len(b.log) == 0 {
		b.createdAt = time.Time{}
	}

	return drained, bytes
}

// Snapshot copies the full buffer state under the lock.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		Log:            append([]delta.RowDelta(nil), b.log...),
		Index:          make(map[delta.RowKey]delta.RowDelta, len(b.index)),
		DeltaIDs:       make(map[string]struct{}, len(b.deltaIDs)),
		EstimatedBytes: b.bytes,
		CreatedAt:      b.createdAt,
		TableBytes:     make(map[string]int, len(b.tableBytes)),
		TableLog:       make(map[string][]delta.RowDelta, len(b.tableLog)),
	}
	for k, v := range b.index {
		snap.Index[k] = v
	}
	for id := range b.deltaIDs {
		snap.DeltaIDs[id] = struct{}{}
	}
	for t, v := range b.tableBytes {
		snap.TableBytes[t] = v
	}
	for t, log := range b.tableLog {
		snap.TableLog[t] = append([]delta.RowDelta(nil), log...)
	}

	return snap
}

// Clear discards all buffered deltas.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reset()
}
