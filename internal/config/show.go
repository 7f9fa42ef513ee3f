package config

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lakegate/lakegate/internal/schema"
)

// redactedValue replaces secret material in rendered output.
const redactedValue = "<redacted>"

// RenderEffective writes the effective configuration as a
// human-readable annotated summary to w. This powers the
// "config show" command, giving operators visibility into the values
// after defaults, file, environment, and CLI flags have been applied.
// Secrets are redacted, so the output is safe to paste into a ticket.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective lakegate configuration\n\n")

	renderGatewaySection(ew, &cfg.Gateway)
	renderBufferSection(ew, &cfg.Buffer)
	renderFlushSection(ew, &cfg.Flush)
	renderCompactionSection(ew, &cfg.Compaction)
	renderMaintenanceSection(ew, &cfg.Maintenance)
	renderSchedulerSection(ew, &cfg.Scheduler)
	renderCheckpointSection(ew, &cfg.Checkpoint)
	renderStorageSection(ew, &cfg.Storage)
	renderCatalogSection(ew, &cfg.Catalog)
	renderServerSection(ew, &cfg.Server)
	renderLoggingSection(ew, &cfg.Logging)
	renderActionsSection(ew, &cfg.Actions)
	renderSourcesSections(ew, cfg.Sources)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderGatewaySection(ew *errWriter, g *GatewayConfig) {
	ew.printf("[gateway]\n")

	if g.ID != "" {
		ew.printf("  id          = %q\n", g.ID)
	} else {
		ew.printf("  id          = \"\"  # generated at startup\n")
	}

	if g.RulesPath != "" {
		ew.printf("  rules_path  = %q\n", g.RulesPath)
		ew.printf("  watch_rules = %t\n", g.WatchRules)
	}

	if g.TableSchema != nil {
		renderTableSchema(ew, g.TableSchema)
	}

	ew.printf("\n")
}

func renderTableSchema(ew *errWriter, ts *schema.TableSchema) {
	cols := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		cols[i] = fmt.Sprintf("%s:%s", c.Name, c.Type)
	}

	ew.printf("  [gateway.table_schema]\n")
	ew.printf("    table       = %q\n", ts.Table)

	if ts.PrimaryKey != "" {
		ew.printf("    primary_key = %q\n", ts.PrimaryKey)
	}

	if ts.SoftDelete {
		ew.printf("    soft_delete = %t\n", ts.SoftDelete)
	}

	if ts.ExternalIDColumn != "" {
		ew.printf("    external_id_column = %q\n", ts.ExternalIDColumn)
	}

	ew.printf("    columns     = [%s]\n", strings.Join(cols, ", "))
}

func renderBufferSection(ew *errWriter, b *BufferConfig) {
	ew.printf("[buffer]\n")
	ew.printf("  max_bytes          = %q\n", b.MaxBytes)
	ew.printf("  max_age            = %q\n", b.MaxAge)
	ew.printf("  backpressure_bytes = %q\n", b.BackpressureBytes)

	if b.Adaptive.Enabled {
		ew.printf("  [buffer.adaptive]\n")
		ew.printf("    wide_column_threshold = %q\n", b.Adaptive.WideColumnThreshold)
		ew.printf("    reduction_factor      = %g\n", b.Adaptive.ReductionFactor)
	}

	ew.printf("\n")
}

func renderFlushSection(ew *errWriter, f *FlushConfig) {
	ew.printf("[flush]\n")
	ew.printf("  format        = %q\n", f.Format)

	if f.KeyPrefix != "" {
		ew.printf("  key_prefix    = %q\n", f.KeyPrefix)
	}

	ew.printf("  queue         = %q\n", f.Queue)

	if f.Queue == "badger" {
		ew.printf("  badger_dir    = %q\n", f.BadgerDir)
		ew.printf("  poll_interval = %q\n", f.PollInterval)
		ew.printf("  max_attempts  = %d\n", f.MaxAttempts)
	}

	ew.printf("\n")
}

func renderCompactionSection(ew *errWriter, c *CompactionConfig) {
	ew.printf("[compaction]\n")
	ew.printf("  input_prefix     = %q\n", c.InputPrefix)
	ew.printf("  output_prefix    = %q\n", c.OutputPrefix)
	ew.printf("  min_delta_files  = %d\n", c.MinDeltaFiles)
	ew.printf("  max_delta_files  = %d\n", c.MaxDeltaFiles)
	ew.printf("  target_file_size = %q\n", c.TargetFileSize)
	ew.printf("\n")
}

func renderMaintenanceSection(ew *errWriter, m *MaintenanceConfig) {
	ew.printf("[maintenance]\n")
	ew.printf("  retain_snapshots = %d\n", m.RetainSnapshots)
	ew.printf("  orphan_age       = %q\n", m.OrphanAge)

	if m.SweepPrefix != "" {
		ew.printf("  sweep_prefix     = %q\n", m.SweepPrefix)
	}

	ew.printf("\n")
}

func renderSchedulerSection(ew *errWriter, s *SchedulerConfig) {
	ew.printf("[scheduler]\n")
	ew.printf("  enabled  = %t\n", s.Enabled)
	ew.printf("  interval = %q\n", s.Interval)
	ew.printf("\n")
}

func renderCheckpointSection(ew *errWriter, c *CheckpointConfig) {
	ew.printf("[checkpoint]\n")
	ew.printf("  enabled    = %t\n", c.Enabled)
	ew.printf("  chunk_size = %q\n", c.ChunkSize)
	ew.printf("\n")
}

func renderStorageSection(ew *errWriter, s *StorageConfig) {
	ew.printf("[storage]\n")
	ew.printf("  driver = %q\n", s.Driver)

	if s.Driver == "fs" {
		ew.printf("  fs_root = %q\n", s.FSRoot)
	}

	if s.Driver == "gcs" {
		ew.printf("  bucket           = %q\n", s.Bucket)
		ew.printf("  credentials_file = %q\n", s.CredentialsFile)
	}

	ew.printf("\n")
}

func renderCatalogSection(ew *errWriter, c *CatalogConfig) {
	ew.printf("[catalog]\n")
	ew.printf("  enabled   = %t\n", c.Enabled)

	if !c.Enabled {
		ew.printf("\n")
		return
	}

	ew.printf("  url       = %q\n", c.URL)
	ew.printf("  namespace = [%s]\n", joinQuoted(c.Namespace))

	if c.OAuth.TokenURL != "" {
		ew.printf("  [catalog.oauth]\n")
		ew.printf("    token_url     = %q\n", c.OAuth.TokenURL)
		ew.printf("    client_id     = %q\n", c.OAuth.ClientID)
		ew.printf("    client_secret = %q\n", redactSecret(c.OAuth.ClientSecret))
	}

	ew.printf("\n")
}

func renderServerSection(ew *errWriter, s *ServerConfig) {
	ew.printf("[server]\n")
	ew.printf("  addr             = %q\n", s.Addr)
	ew.printf("  shutdown_timeout = %q\n", s.ShutdownTimeout)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  level  = %q\n", l.Level)
	ew.printf("  format = %q\n", l.Format)
	ew.printf("\n")
}

func renderActionsSection(ew *errWriter, a *ActionsConfig) {
	ew.printf("[actions]\n")
	ew.printf("  enabled = %t\n", a.Enabled)

	if !a.Enabled {
		ew.printf("\n")
		return
	}

	ew.printf("  cache      = %q\n", a.Cache)
	ew.printf("  cache_ttl  = %q\n", a.CacheTTL)

	if a.Cache == "memory" {
		ew.printf("  cache_size = %d\n", a.CacheSize)
	}

	if a.Cache == "redis" {
		ew.printf("  [actions.redis]\n")
		ew.printf("    addr     = %q\n", a.Redis.Addr)
		ew.printf("    password = %q\n", redactSecret(a.Redis.Password))
		ew.printf("    db       = %d\n", a.Redis.DB)
	}

	ew.printf("\n")
}

func renderSourcesSections(ew *errWriter, sources map[string]SourceConfig) {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		src := sources[name]
		ew.printf("[sources.%s]\n", name)
		ew.printf("  driver = %q\n", src.Driver)
		ew.printf("  path   = %q\n", src.Path)
		ew.printf("\n")
	}
}

// redactSecret hides a secret's value while still showing whether one
// is set at all.
func redactSecret(s string) string {
	if s == "" {
		return ""
	}

	return redactedValue
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
