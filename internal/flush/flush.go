// Package flush drains buffered deltas and persists them as immutable
// batch files in an object store, or as rows through a database
// adapter. A coordinator owns the single-flight guard, the object key
// layout, the optional lakehouse catalogue commit, and the optional
// flush-queue publish that follows a successful write.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lakegate/lakegate/internal/buffer"
	"github.com/lakegate/lakegate/internal/catalog"
	"github.com/lakegate/lakegate/internal/codec"
	"github.com/lakegate/lakegate/internal/dbadapter"
	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
)

// Serialisation formats for object-store targets.
const (
	FormatJSON    = "json"
	FormatParquet = "parquet"

	contentTypeJSON    = "application/json"
	contentTypeParquet = "application/vnd.apache.parquet"
)

// ErrInProgress is returned when a flush is invoked while another one
// holds the guard.
var ErrInProgress = errors.New("flush: flush already in progress")

// Error reports a failure at a named stage of the flush pipeline.
// Stages that produce it (encode, put, insert) leave the buffer
// restored, so the batch is re-covered by the next attempt.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("flush: %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Catalogue is the slice of the lakehouse catalogue client the
// coordinator commits flushed files through.
type Catalogue interface {
	CreateNamespace(ctx context.Context, namespace []string) error
	CreateTable(ctx context.Context, namespace []string, name string, ts schema.TableSchema, partitionSpec []string) error
	AppendFiles(ctx context.Context, namespace []string, name string, files []catalog.DataFile) error
}

// QueueMetadata travels with published entries so materialisers know
// which gateway produced them and which schemas apply.
type QueueMetadata struct {
	GatewayID string
	Schemas   []schema.TableSchema
}

// Queue receives successfully flushed entries for downstream
// materialisation.
type Queue interface {
	Publish(ctx context.Context, entries []delta.RowDelta, meta QueueMetadata) error
}

// Config wires a Coordinator. Exactly one of Store or DB must be set.
type Config struct {
	GatewayID string
	Format    string   // FormatJSON or FormatParquet; defaults to parquet
	KeyPrefix string   // optional segment inserted before the range in object keys
	Namespace []string // catalogue namespace; required when Catalogue is set

	Buffer    *buffer.Buffer
	Store     objstore.Adapter
	DB        dbadapter.Adapter
	Schemas   *schema.Manager // required for the parquet format
	Catalogue Catalogue       // optional
	Queue     Queue           // optional
	Logger    *slog.Logger
}

// Coordinator serialises and persists drained batches. All methods are
// safe for concurrent use; overlapping flushes beyond the first return
// ErrInProgress.
type Coordinator struct {
	cfg      Config
	logger   *slog.Logger
	flushing atomic.Bool

	// now stamps the date segment of object keys. Tests pin it.
	now func() time.Time
}

// NewCoordinator validates the wiring and returns a ready coordinator.
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("flush: config is required")
	}
	if cfg.GatewayID == "" {
		return nil, fmt.Errorf("flush: gateway ID is required")
	}
	if cfg.Buffer == nil {
		return nil, fmt.Errorf("flush: buffer is required")
	}
	if cfg.Store == nil && cfg.DB == nil {
		return nil, fmt.Errorf("flush: an object-store or database target is required")
	}
	if cfg.Store != nil && cfg.DB != nil {
		return nil, fmt.Errorf("flush: object-store and database targets are mutually exclusive")
	}

	resolved := *cfg
	if resolved.Format == "" {
		resolved.Format = FormatParquet
	}
	if resolved.Format != FormatJSON && resolved.Format != FormatParquet {
		return nil, fmt.Errorf("flush: unknown format %q", resolved.Format)
	}
	if resolved.Store != nil && resolved.Format == FormatParquet && resolved.Schemas == nil {
		return nil, fmt.Errorf("flush: parquet format requires a table schema")
	}
	if resolved.Catalogue != nil && len(resolved.Namespace) == 0 {
		return nil, fmt.Errorf("flush: catalogue requires a namespace")
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}

	return &Coordinator{
		cfg:    resolved,
		logger: resolved.Logger,
		now:    time.Now,
	}, nil
}

// Result describes one completed flush. Bytes is the size of the
// written object, or the drained byte estimate for database targets.
// ObjectKey is empty for database targets and for empty flushes.
type Result struct {
	Deltas    int
	Bytes     int
	ObjectKey string
	Format    string
}

// Flush drains the whole buffer and persists it as one batch.
func (c *Coordinator) Flush(ctx context.Context) (*Result, error) {
	return c.run(ctx, "")
}

// FlushTable drains only the named table's entries. The table name is
// embedded in the object key so per-table files sort together.
func (c *Coordinator) FlushTable(ctx context.Context, table string) (*Result, error) {
	return c.run(ctx, table)
}

func (c *Coordinator) run(ctx context.Context, table string) (*Result, error) {
	if !c.flushing.CompareAndSwap(false, true) {
		return nil, ErrInProgress
	}
	defer c.flushing.Store(false)

	var entries []delta.RowDelta
	var byteSize int
	if table == "" {
		entries, byteSize = c.cfg.Buffer.Drain()
	} else {
		entries, byteSize = c.cfg.Buffer.DrainTable(table)
	}
	if len(entries) == 0 {
		return &Result{}, nil
	}

	result, err := c.persist(ctx, entries, byteSize, table)
	if err != nil {
		// The next flush attempt must re-cover the failed batch.
		c.cfg.Buffer.Restore(entries)
		return nil, err
	}

	c.commitCatalogue(ctx, result)
	c.publish(ctx, entries)

	c.logger.Info("flush: batch persisted",
		slog.Int("deltas", result.Deltas),
		slog.Int("bytes", result.Bytes),
		slog.String("key", result.ObjectKey))

	return result, nil
}

func (c *Coordinator) persist(ctx context.Context, entries []delta.RowDelta, byteSize int, table string) (*Result, error) {
	if c.cfg.DB != nil {
		if err := c.cfg.DB.InsertDeltas(ctx, entries); err != nil {
			return nil, &Error{Stage: "insert", Err: err}
		}

		return &Result{Deltas: len(entries), Bytes: byteSize}, nil
	}

	var (
		data        []byte
		contentType string
		err         error
	)
	switch c.cfg.Format {
	case FormatJSON:
		data, err = codec.EncodeEnvelope(codec.NewFlushEnvelope(c.cfg.GatewayID, entries, byteSize))
		contentType = contentTypeJSON
	case FormatParquet:
		data, err = codec.WriteDeltas(entries, c.cfg.Schemas.Snapshot().Schema)
		contentType = contentTypeParquet
	}
	if err != nil {
		return nil, &Error{Stage: "encode", Err: err}
	}

	key := c.objectKey(entries, table)
	if err := c.cfg.Store.Put(ctx, key, data, contentType); err != nil {
		return nil, &Error{Stage: "put", Err: err}
	}

	return &Result{Deltas: len(entries), Bytes: len(data), ObjectKey: key, Format: c.cfg.Format}, nil
}

// objectKey derives deltas/YYYY-MM-DD/{gatewayId}/{prefix}{table-}{min}-{max}.{ext}
// with HLC bounds as decimal strings.
func (c *Coordinator) objectKey(entries []delta.RowDelta, table string) string {
	r := codec.RangeOf(entries)
	date := c.now().UTC().Format("2006-01-02")

	key := "deltas/" + date + "/" + c.cfg.GatewayID + "/" + c.cfg.KeyPrefix
	if table != "" {
		key += table + "-"
	}

	ext := "parquet"
	if c.cfg.Format == FormatJSON {
		ext = "json"
	}

	return key + r.Min.String() + "-" + r.Max.String() + "." + ext
}

// commitCatalogue registers a flushed parquet file with the lakehouse
// catalogue. The file is already durable, so every failure here is
// logged and swallowed rather than failing the flush.
func (c *Coordinator) commitCatalogue(ctx context.Context, res *Result) {
	if c.cfg.Catalogue == nil || res.ObjectKey == "" || res.Format != FormatParquet {
		return
	}

	snap := c.cfg.Schemas.Snapshot()
	name := snap.Schema.Table

	if err := c.cfg.Catalogue.CreateNamespace(ctx, c.cfg.Namespace); err != nil && !catalog.IsConflict(err) {
		c.logger.Warn("flush: catalogue namespace creation failed", slog.String("error", err.Error()))
		return
	}

	// A conflict means the table already exists; the append proceeds.
	if err := c.cfg.Catalogue.CreateTable(ctx, c.cfg.Namespace, name, snap.Schema, nil); err != nil && !catalog.IsConflict(err) {
		c.logger.Warn("flush: catalogue table creation failed", slog.String("error", err.Error()))
		return
	}

	files := []catalog.DataFile{{
		Path:        res.ObjectKey,
		SizeBytes:   int64(res.Bytes),
		RecordCount: int64(res.Deltas),
		Format:      FormatParquet,
	}}

	err := c.cfg.Catalogue.AppendFiles(ctx, c.cfg.Namespace, name, files)
	if catalog.IsConflict(err) {
		// A concurrent commit raced ours; retry exactly once.
		err = c.cfg.Catalogue.AppendFiles(ctx, c.cfg.Namespace, name, files)
	}
	if err != nil {
		c.logger.Warn("flush: catalogue append failed", slog.String("error", err.Error()))
		return
	}

	c.logger.Debug("flush: catalogue commit complete", slog.String("table", name), slog.String("key", res.ObjectKey))
}

// publish hands flushed entries to the flush queue. Materialisation
// failures never fail the flush.
func (c *Coordinator) publish(ctx context.Context, entries []delta.RowDelta) {
	if c.cfg.Queue == nil {
		return
	}

	meta := QueueMetadata{GatewayID: c.cfg.GatewayID}
	if c.cfg.Schemas != nil {
		meta.Schemas = []schema.TableSchema{c.cfg.Schemas.Snapshot().Schema}
	}

	if err := c.cfg.Queue.Publish(ctx, entries, meta); err != nil {
		c.logger.Warn("flush: queue publish failed", slog.String("error", err.Error()))
	}
}
