package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lakegate/lakegate/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagLogLevel   string
	flagLogFormat  string
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE. Available to all subcommands after the root
// pre-run phase completes.
var resolvedCfg *config.Config

// resolvedCfgPath is the path the config was loaded from (or would
// have been, when the file does not exist and defaults apply).
var resolvedCfgPath string

// skipConfigCommands lists commands that run without configuration.
// Uses CommandPath() for explicit matching, safe against future
// subcommand collisions.
var skipConfigCommands = map[string]bool{
	"lakegate version":    true,
	"lakegate completion": true,
}

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lakegate",
		Short: "Sync gateway and lakehouse compactor",
		Long: `A sync gateway for CRDT-style replicated data: ingests row deltas,
resolves conflicts by column-level last-writer-wins, flushes to object
storage, and compacts delta files into base snapshots and checkpoints.`,
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format (auto, text, json)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMaintainCmd())
	cmd.AddCommand(newFlushCmd())
	cmd.AddCommand(newCheckpointCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override
// chain (defaults < file < environment < flags) and stores the result
// in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Pointer overrides: only pass flags the user explicitly set, so
	// an unset flag never clobbers a config-file value.
	if cmd.Flags().Changed("log-level") {
		cli.LogLevel = &flagLogLevel
	}

	if cmd.Flags().Changed("log-format") {
		cli.LogFormat = &flagLogFormat
	}

	env := config.ReadEnvOverrides()

	cfg, path, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config
// and CLI flags. Config-file level and format provide the baseline;
// --verbose and --quiet override the level because CLI flags always
// win. The "auto" format picks a text handler on a terminal and JSON
// otherwise, so daemon logs stay machine-parseable under systemd or a
// container runtime.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := config.DefaultLogFormat

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		if resolvedCfg.Logging.Format != "" {
			format = resolvedCfg.Logging.Format
		}
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
