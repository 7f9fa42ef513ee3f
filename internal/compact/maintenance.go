package compact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/pkg/hlc"
)

// MaintenanceConfig bounds one maintenance cycle.
type MaintenanceConfig struct {
	// RetainSnapshots is how many catalogue snapshots a cycle keeps.
	// Expiry needs catalogue support; reports carry a zero until then.
	RetainSnapshots int

	// OrphanAge is how long an unreferenced object must sit before
	// the sweep may remove it. Younger objects may belong to an
	// in-flight flush. Default 1h.
	OrphanAge time.Duration
}

func (c *MaintenanceConfig) applyDefaults() {
	if c.RetainSnapshots <= 0 {
		c.RetainSnapshots = 5
	}
	if c.OrphanAge <= 0 {
		c.OrphanAge = time.Hour
	}
}

// RunnerConfig wires a maintenance Runner.
type RunnerConfig struct {
	Compactor *Compactor
	Generator *Generator // optional; skips the checkpoint step when nil
	Store     objstore.Adapter
	Policy    MaintenanceConfig
	Logger    *slog.Logger
}

// Runner drives one full maintenance cycle: compact, checkpoint,
// orphan sweep.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewRunner(cfg *RunnerConfig) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("compact: runner config is required")
	}
	if cfg.Compactor == nil {
		return nil, fmt.Errorf("compact: runner needs a compactor")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("compact: runner needs an object store")
	}

	resolved := *cfg
	resolved.Policy.applyDefaults()
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}

	return &Runner{cfg: resolved, logger: resolved.Logger, now: time.Now}, nil
}

// Report summarises one maintenance cycle.
type Report struct {
	Compaction       *Result   `json:"compaction"`
	SnapshotsExpired int       `json:"snapshotsExpired"`
	OrphansRemoved   int       `json:"orphansRemoved"`
	Checkpoint       *Manifest `json:"checkpoint,omitempty"`
}

// Run compacts the given delta files into outputPrefix, generates a
// checkpoint when new base files appeared, and sweeps unreferenced
// objects under storagePrefix. Checkpoint failures are logged and the
// cycle continues; compaction and sweep failures end it.
func (r *Runner) Run(ctx context.Context, deltaFileKeys []string, outputPrefix, storagePrefix string) (*Report, error) {
	compaction, err := r.cfg.Compactor.Compact(ctx, deltaFileKeys, outputPrefix)
	if err != nil {
		return nil, fmt.Errorf("compact: maintenance compaction: %w", err)
	}
	report := &Report{Compaction: compaction}

	// Everything still referenced survives the sweep: delta files the
	// pass did not consume, plus every compaction output.
	active := make(map[string]struct{})
	for _, key := range deltaFileKeys[compaction.DeltaFilesCompacted:] {
		active[key] = struct{}{}
	}
	outputs, err := r.cfg.Store.List(ctx, outputPrefix)
	if err != nil {
		return nil, fmt.Errorf("compact: list outputs %s: %w", outputPrefix, err)
	}
	for _, o := range outputs {
		active[o.Key] = struct{}{}
	}

	if r.cfg.Generator != nil && compaction.BaseFilesWritten > 0 {
		manifest, err := r.checkpoint(ctx, outputs)
		if err != nil {
			r.logger.Warn("checkpoint generation failed", slog.String("error", err.Error()))
		} else {
			report.Checkpoint = manifest
			for _, key := range r.cfg.Generator.Keys(manifest.ChunkCount) {
				active[key] = struct{}{}
			}
		}
	}

	removed, err := r.removeOrphans(ctx, storagePrefix, active)
	if err != nil {
		return nil, err
	}
	report.OrphansRemoved = removed

	r.logger.Info("maintenance cycle completed",
		slog.Int("delta_files_compacted", compaction.DeltaFilesCompacted),
		slog.Int("base_files_written", compaction.BaseFilesWritten),
		slog.Int("orphans_removed", removed),
		slog.Bool("checkpoint", report.Checkpoint != nil))

	return report, nil
}

// checkpoint regenerates the snapshot from every base file currently
// under the output prefix, stamped with the present wall clock.
func (r *Runner) checkpoint(ctx context.Context, outputs []objstore.ObjectInfo) (*Manifest, error) {
	var baseKeys []string
	for _, o := range outputs {
		if strings.Contains(o.Key, "/base-") && strings.HasSuffix(o.Key, ".parquet") {
			baseKeys = append(baseKeys, o.Key)
		}
	}

	snapshot := hlc.Encode(r.now().UnixMilli(), 0)

	return r.cfg.Generator.Generate(ctx, baseKeys, snapshot)
}

// removeOrphans deletes objects under prefix that are both
// unreferenced and older than OrphanAge. The age guard keeps the
// sweep from racing an in-flight flush whose key is not yet
// referenced anywhere.
func (r *Runner) removeOrphans(ctx context.Context, prefix string, active map[string]struct{}) (int, error) {
	objects, err := r.cfg.Store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("compact: list %s: %w", prefix, err)
	}

	cutoff := r.now().Add(-r.cfg.Policy.OrphanAge)
	var doomed []string
	for _, o := range objects {
		if _, ok := active[o.Key]; ok {
			continue
		}
		if o.LastModified.After(cutoff) {
			continue
		}
		doomed = append(doomed, o.Key)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	if err := r.cfg.Store.DeleteAll(ctx, doomed); err != nil {
		return 0, fmt.Errorf("compact: delete orphans: %w", err)
	}

	return len(doomed), nil
}
