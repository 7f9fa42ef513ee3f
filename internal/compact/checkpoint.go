package compact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakegate/lakegate/internal/codec"
	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// DefaultChunkBytes bounds one checkpoint chunk's estimated payload.
const DefaultChunkBytes = 16 << 20

// Per-record weights sized for the protobuf encoding, not the parquet
// source.
const (
	chunkRecordOverhead = 200
	chunkColumnWeight   = 50
)

const (
	contentTypeOctet = "application/octet-stream"
	contentTypeJSON  = "application/json"
)

// GeneratorConfig wires a checkpoint Generator.
type GeneratorConfig struct {
	GatewayID  string
	Store      objstore.Adapter
	ChunkBytes int                 // default DefaultChunkBytes
	Metrics    *metrics.Checkpoint // optional
	Logger     *slog.Logger
}

// Generator turns base files into a chunked snapshot a fresh client
// downloads instead of replaying delta history.
type Generator struct {
	cfg    GeneratorConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewGenerator(cfg *GeneratorConfig) (*Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("compact: generator config is required")
	}
	if cfg.GatewayID == "" {
		return nil, fmt.Errorf("compact: generator gateway ID is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("compact: generator object store is required")
	}

	resolved := *cfg
	if resolved.ChunkBytes <= 0 {
		resolved.ChunkBytes = DefaultChunkBytes
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}

	return &Generator{cfg: resolved, logger: resolved.Logger, now: time.Now}, nil
}

// Manifest describes one complete checkpoint.
type Manifest struct {
	SnapshotHLC hlc.Timestamp `json:"snapshotHlc"`
	GeneratedAt time.Time     `json:"generatedAt"`
	ChunkCount  int           `json:"chunkCount"`
	TotalDeltas int           `json:"totalDeltas"`
	Chunks      []string      `json:"chunks"`
}

// ManifestKey is where the checkpoint's manifest lives.
func (g *Generator) ManifestKey() string {
	return fmt.Sprintf("checkpoints/%s/manifest.json", g.cfg.GatewayID)
}

// ChunkKey is where the chunk at index lives.
func (g *Generator) ChunkKey(index int) string {
	return fmt.Sprintf("checkpoints/%s/chunk-%03d.bin", g.cfg.GatewayID, index)
}

// Keys lists every object a checkpoint with chunkCount chunks
// occupies, manifest first. Maintenance shields these from the orphan
// sweep.
func (g *Generator) Keys(chunkCount int) []string {
	keys := make([]string, 0, chunkCount+1)
	keys = append(keys, g.ManifestKey())
	for i := range chunkCount {
		keys = append(keys, g.ChunkKey(i))
	}

	return keys
}

// Generate reads the base files in order, packs their rows into
// chunks of roughly ChunkBytes, and writes the chunks plus a manifest.
// Each chunk is a protobuf SyncResponse stamped with the snapshot
// clock. Cancellation is observed between files.
func (g *Generator) Generate(ctx context.Context, baseFileKeys []string, snapshotHLC hlc.Timestamp) (*Manifest, error) {
	manifest := &Manifest{
		SnapshotHLC: snapshotHLC,
		GeneratedAt: g.now().UTC(),
		Chunks:      []string{},
	}

	var acc []delta.RowDelta
	estimate := 0
	totalBytes := 0

	flushChunk := func() error {
		if len(acc) == 0 {
			return nil
		}
		key := g.ChunkKey(manifest.ChunkCount)

		// hasMore stays false inside chunks: the manifest, not the
		// payload, enumerates the set.
		data, err := codec.EncodeSyncResponse(codec.SyncResponse{Deltas: acc, ServerHLC: snapshotHLC})
		if err != nil {
			return &Error{Stage: "encode", Key: key, Err: err}
		}
		if err := g.cfg.Store.Put(ctx, key, data, contentTypeOctet); err != nil {
			return &Error{Stage: "write", Key: key, Err: err}
		}

		manifest.Chunks = append(manifest.Chunks, key)
		manifest.ChunkCount++
		manifest.TotalDeltas += len(acc)
		totalBytes += len(data)
		acc = nil
		estimate = 0

		return nil
	}

	for _, key := range baseFileKeys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := g.cfg.Store.Get(ctx, key)
		if err != nil {
			return nil, &Error{Stage: "read", Key: key, Err: err}
		}
		entries, err := codec.ReadDeltas(data)
		if err != nil {
			return nil, &Error{Stage: "parse", Key: key, Err: err}
		}

		for i := range entries {
			acc = append(acc, entries[i])
			estimate += chunkRecordOverhead + chunkColumnWeight*len(entries[i].Columns)
			if estimate >= g.cfg.ChunkBytes {
				if err := flushChunk(); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := flushChunk(); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(manifest)
	if err != nil {
		return nil, &Error{Stage: "encode", Key: g.ManifestKey(), Err: err}
	}
	if err := g.cfg.Store.Put(ctx, g.ManifestKey(), doc, contentTypeJSON); err != nil {
		return nil, &Error{Stage: "write", Key: g.ManifestKey(), Err: err}
	}

	if g.cfg.Metrics != nil {
		g.cfg.Metrics.Chunks.Add(float64(manifest.ChunkCount))
		g.cfg.Metrics.Bytes.Add(float64(totalBytes))
	}

	g.logger.Info("checkpoint generated",
		slog.String("gateway_id", g.cfg.GatewayID),
		slog.String("snapshot_hlc", snapshotHLC.String()),
		slog.Int("chunks", manifest.ChunkCount),
		slog.Int("total_deltas", manifest.TotalDeltas),
		slog.Int("bytes", totalBytes))

	return manifest, nil
}
