// Package compact folds accumulated delta files into consolidated
// base snapshots plus equality-delete files, generates chunked
// checkpoints for client bootstrap, and orchestrates both behind an
// interval scheduler with single-flight maintenance cycles.
package compact

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lakegate/lakegate/internal/codec"
	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
	"github.com/lakegate/lakegate/pkg/hlc"
)

const contentTypeParquet = "application/vnd.apache.parquet"

// Error tags a compaction failure with the stage and object that
// produced it.
type Error struct {
	Stage string // "read", "parse", "write", "store"
	Key   string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compact: %s %s: %v", e.Stage, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CompactionConfig bounds one compaction pass.
type CompactionConfig struct {
	// MinDeltaFiles is the fewest input files worth compacting; below
	// it the pass is a no-op. Default 10.
	MinDeltaFiles int

	// MaxDeltaFiles caps the files consumed per pass; the rest wait
	// for the next cycle. Default 20.
	MaxDeltaFiles int

	// TargetFileSizeBytes starts a new base file once the estimated
	// accumulated weight crosses it. Default 128 MiB.
	TargetFileSizeBytes int
}

func (c *CompactionConfig) applyDefaults() {
	if c.MinDeltaFiles <= 0 {
		c.MinDeltaFiles = 10
	}
	if c.MaxDeltaFiles <= 0 {
		c.MaxDeltaFiles = 20
	}
	if c.TargetFileSizeBytes <= 0 {
		c.TargetFileSizeBytes = 128 << 20
	}
}

// Config wires a Compactor.
type Config struct {
	Store   objstore.Adapter
	Schemas *schema.Manager // column order and types for base files
	Policy  CompactionConfig
	Metrics *metrics.Compactor // optional
	Logger  *slog.Logger
}

// Compactor rewrites many small delta files into base and
// equality-delete files by column-level last-writer-wins resolution.
type Compactor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	random func() string
}

func NewCompactor(cfg *Config) (*Compactor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("compact: config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("compact: object store is required")
	}
	if cfg.Schemas == nil {
		return nil, fmt.Errorf("compact: schema manager is required")
	}

	resolved := *cfg
	resolved.Policy.applyDefaults()
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}
	if resolved.Policy.MaxDeltaFiles < resolved.Policy.MinDeltaFiles {
		return nil, fmt.Errorf("compact: max delta files %d below min %d",
			resolved.Policy.MaxDeltaFiles, resolved.Policy.MinDeltaFiles)
	}

	return &Compactor{
		cfg:    resolved,
		logger: resolved.Logger,
		now:    time.Now,
		random: randSuffix,
	}, nil
}

// Result reports what one compaction pass did.
type Result struct {
	BaseFilesWritten    int `json:"baseFilesWritten"`
	DeleteFilesWritten  int `json:"deleteFilesWritten"`
	DeltaFilesCompacted int `json:"deltaFilesCompacted"`
	BytesRead           int `json:"bytesRead"`
	BytesWritten        int `json:"bytesWritten"`
}

// columnState is one column's current winner during the fold.
type columnState struct {
	value    delta.Value
	hlc      hlc.Timestamp
	clientID string
}

// rowState folds every delta touching one row. Columns resolve by
// last-writer-wins with the clientId tiebreak; the delete sentinel
// keeps its own clock.
type rowState struct {
	table         string
	rowID         string
	clientID      string
	columns       map[string]columnState
	latestHLC     hlc.Timestamp
	latestDeltaID string
	deleteHLC     hlc.Timestamp
}

func (s *rowState) apply(d *delta.RowDelta) {
	if d.HLC > s.latestHLC {
		s.latestHLC = d.HLC
		s.latestDeltaID = d.DeltaID
		s.clientID = d.ClientID
	}
	if d.Op == delta.OpDelete {
		if d.HLC > s.deleteHLC {
			s.deleteHLC = d.HLC
		}

		return
	}

	for i := range d.Columns {
		cv := &d.Columns[i]
		entry, ok := s.columns[cv.Column]
		if !ok || d.HLC > entry.hlc || (d.HLC == entry.hlc && d.ClientID > entry.clientID) {
			s.columns[cv.Column] = columnState{value: cv.Value, hlc: d.HLC, clientID: d.ClientID}
		}
	}
}

// dead reports whether the delete sentinel shadows every column. A
// row that never carried columns is dead too.
func (s *rowState) dead() bool {
	if len(s.columns) == 0 {
		return true
	}
	if s.deleteHLC == 0 {
		return false
	}
	for _, c := range s.columns {
		if c.hlc > s.deleteHLC {
			return false
		}
	}

	return true
}

// liveDelta projects the surviving columns in schema order. Columns
// at or below the delete clock were overwritten by the delete.
func (s *rowState) liveDelta(ts *schema.TableSchema) delta.RowDelta {
	cols := make([]delta.ColumnValue, 0, len(s.columns))
	for _, declared := range ts.Columns {
		entry, ok := s.columns[declared.Name]
		if !ok || entry.hlc <= s.deleteHLC {
			continue
		}
		cols = append(cols, delta.ColumnValue{Column: declared.Name, Value: entry.value})
	}

	return delta.RowDelta{
		Op:       delta.OpInsert,
		Table:    s.table,
		RowID:    s.rowID,
		ClientID: s.clientID,
		Columns:  cols,
		HLC:      s.latestHLC,
		DeltaID:  s.latestDeltaID,
	}
}

// tombstone is the equality-delete record: table and row identity
// only.
func (s *rowState) tombstone() delta.RowDelta {
	return delta.RowDelta{Op: delta.OpDelete, Table: s.table, RowID: s.rowID}
}

// Compact reads up to MaxDeltaFiles delta files, resolves them to one
// state per row, and writes base files for live rows plus one
// equality-delete file for dead rows under outputPrefix. Fewer than
// MinDeltaFiles inputs is a no-op. Cancellation is observed between
// files, never mid-file.
func (c *Compactor) Compact(ctx context.Context, deltaFileKeys []string, outputPrefix string) (*Result, error) {
	if len(deltaFileKeys) < c.cfg.Policy.MinDeltaFiles {
		return &Result{}, nil
	}

	keys := deltaFileKeys
	if len(keys) > c.cfg.Policy.MaxDeltaFiles {
		keys = keys[:c.cfg.Policy.MaxDeltaFiles]
	}

	states := make(map[delta.RowKey]*rowState)
	res := &Result{DeltaFilesCompacted: len(keys)}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := c.cfg.Store.Get(ctx, key)
		if err != nil {
			return nil, &Error{Stage: "read", Key: key, Err: err}
		}
		res.BytesRead += len(data)

		entries, err := codec.ReadDeltas(data)
		if err != nil {
			return nil, &Error{Stage: "parse", Key: key, Err: err}
		}
		for i := range entries {
			d := &entries[i]
			rk := d.Key()
			state, ok := states[rk]
			if !ok {
				state = &rowState{table: d.Table, rowID: d.RowID, columns: make(map[string]columnState)}
				states[rk] = state
			}
			state.apply(d)
		}
	}

	ts := c.cfg.Schemas.Snapshot().Schema
	live, dead := classify(states, &ts)

	if err := c.writeBaseFiles(ctx, live, &ts, outputPrefix, res); err != nil {
		return nil, err
	}
	if len(dead) > 0 {
		key := fmt.Sprintf("%s/delete-%s.parquet", outputPrefix, c.stamp())
		if err := c.writeFile(ctx, key, dead, &ts, res); err != nil {
			return nil, err
		}
		res.DeleteFilesWritten++
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.FilesCompacted.Add(float64(res.DeltaFilesCompacted))
		c.cfg.Metrics.BytesRead.Add(float64(res.BytesRead))
		c.cfg.Metrics.BytesWritten.Add(float64(res.BytesWritten))
		c.cfg.Metrics.RowsLive.Add(float64(len(live)))
		c.cfg.Metrics.RowsDead.Add(float64(len(dead)))
	}

	c.logger.Info("compaction completed",
		slog.Int("delta_files", res.DeltaFilesCompacted),
		slog.Int("rows_live", len(live)),
		slog.Int("rows_dead", len(dead)),
		slog.Int("bytes_read", res.BytesRead),
		slog.Int("bytes_written", res.BytesWritten))

	return res, nil
}

// classify splits the fold into live projections and tombstones, both
// in deterministic row order.
func classify(states map[delta.RowKey]*rowState, ts *schema.TableSchema) (live, dead []delta.RowDelta) {
	keys := make([]delta.RowKey, 0, len(states))
	for rk := range states {
		keys = append(keys, rk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Table != keys[j].Table {
			return keys[i].Table < keys[j].Table
		}

		return keys[i].RowID < keys[j].RowID
	})

	for _, rk := range keys {
		state := states[rk]
		if state.dead() {
			dead = append(dead, state.tombstone())
			continue
		}
		live = append(live, state.liveDelta(ts))
	}

	return live, dead
}

// writeBaseFiles chunks live rows into base files at the target size.
func (c *Compactor) writeBaseFiles(ctx context.Context, live []delta.RowDelta, ts *schema.TableSchema, outputPrefix string, res *Result) error {
	var batch []delta.RowDelta
	batchBytes := 0

	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		key := fmt.Sprintf("%s/base-%s.parquet", outputPrefix, c.stamp())
		if err := c.writeFile(ctx, key, batch, ts, res); err != nil {
			return err
		}
		res.BaseFilesWritten++
		batch = nil
		batchBytes = 0

		return nil
	}

	for i := range live {
		batch = append(batch, live[i])
		batchBytes += live[i].EstimatedBytes()
		if batchBytes >= c.cfg.Policy.TargetFileSizeBytes {
			if err := flushBatch(); err != nil {
				return err
			}
		}
	}

	return flushBatch()
}

func (c *Compactor) writeFile(ctx context.Context, key string, rows []delta.RowDelta, ts *schema.TableSchema, res *Result) error {
	data, err := codec.WriteDeltas(rows, *ts)
	if err != nil {
		return &Error{Stage: "write", Key: key, Err: err}
	}
	if err := c.cfg.Store.Put(ctx, key, data, contentTypeParquet); err != nil {
		return &Error{Stage: "store", Key: key, Err: err}
	}
	res.BytesWritten += len(data)

	return nil
}

// stamp builds the {unixMillis}-{rand6} uniqueness suffix for output
// file names.
func (c *Compactor) stamp() string {
	return fmt.Sprintf("%d-%s", c.now().UnixMilli(), c.random())
}

func randSuffix() string {
	var b [3]byte
	_, _ = rand.Read(b[:])

	return hex.EncodeToString(b[:])
}
