package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/pkg/hlc"
)

func newCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Generate a checkpoint from the current base files",
		Long: `Rebuild the chunked bootstrap snapshot from every base file under the
compaction output prefix, regardless of the checkpoint.enabled setting.
Normally the maintenance cycle does this after each compaction; the
command exists for first-time setup and for repairing a lost manifest.`,
		RunE: runCheckpoint,
	}
}

func runCheckpoint(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	slog.SetDefault(logger)

	ctx := shutdownContext(cmd.Context(), logger)
	cfg := resolvedCfg

	store, err := objstore.New(ctx, objstore.Config{
		Driver:          cfg.Storage.Driver,
		Root:            cfg.Storage.FSRoot,
		Bucket:          cfg.Storage.Bucket,
		CredentialsFile: cfg.Storage.CredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("building object store: %w", err)
	}

	// Bypass the checkpoint.enabled gate: invoking the command is the
	// explicit request.
	enabled := *cfg
	enabled.Checkpoint.Enabled = true

	bundle := metrics.NewBundle()

	generator, err := buildGenerator(&enabled, gatewayID(cfg), store, bundle, logger)
	if err != nil {
		return err
	}

	objects, err := store.List(ctx, cfg.Compaction.OutputPrefix)
	if err != nil {
		return fmt.Errorf("listing %s: %w", cfg.Compaction.OutputPrefix, err)
	}

	var baseKeys []string
	for _, o := range objects {
		if strings.Contains(o.Key, "/base-") && strings.HasSuffix(o.Key, ".parquet") {
			baseKeys = append(baseKeys, o.Key)
		}
	}

	if len(baseKeys) == 0 {
		fmt.Fprintln(os.Stderr, "No base files under", cfg.Compaction.OutputPrefix, "— run maintenance first.")
		return nil
	}

	snapshot := hlc.Encode(time.Now().UnixMilli(), 0)

	manifest, err := generator.Generate(ctx, baseKeys, snapshot)
	if err != nil {
		return fmt.Errorf("generating checkpoint: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(manifest)
}
