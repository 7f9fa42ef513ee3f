package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lakegate/lakegate/internal/metrics"
	"github.com/lakegate/lakegate/internal/objstore"
	"github.com/lakegate/lakegate/internal/schema"
)

func newMaintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run one maintenance cycle: compact, checkpoint, orphan sweep",
		Long: `Run a single maintenance cycle against the configured object store
and print the resulting report. Safe to run while a gateway serves the
same store: young and referenced objects are never swept, and the
compactor only consumes files already flushed.`,
		RunE: runMaintain,
	}
}

func runMaintain(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	slog.SetDefault(logger)

	ctx := shutdownContext(cmd.Context(), logger)
	cfg := resolvedCfg

	if cfg.Gateway.TableSchema == nil {
		return fmt.Errorf("maintenance requires gateway.table_schema for base-file column order")
	}

	store, err := objstore.New(ctx, objstore.Config{
		Driver:          cfg.Storage.Driver,
		Root:            cfg.Storage.FSRoot,
		Bucket:          cfg.Storage.Bucket,
		CredentialsFile: cfg.Storage.CredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("building object store: %w", err)
	}

	schemas, err := schema.NewManager(*cfg.Gateway.TableSchema)
	if err != nil {
		return fmt.Errorf("building schema manager: %w", err)
	}

	bundle := metrics.NewBundle()

	generator, err := buildGenerator(cfg, gatewayID(cfg), store, bundle, logger)
	if err != nil {
		return err
	}

	runner, err := buildRunner(cfg, store, schemas, generator, bundle, logger)
	if err != nil {
		return err
	}

	task, err := maintenanceTaskProvider(cfg, store)(ctx)
	if err != nil {
		return fmt.Errorf("listing delta files: %w", err)
	}
	if task == nil {
		fmt.Fprintln(os.Stderr, "No delta files under", cfg.Compaction.InputPrefix, "— nothing to do.")
		return nil
	}

	report, err := runner.Run(ctx, task.DeltaFileKeys, task.OutputPrefix, task.StoragePrefix)
	if err != nil {
		return fmt.Errorf("maintenance cycle: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(report)
}
