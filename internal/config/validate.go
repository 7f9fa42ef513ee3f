package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lakegate/lakegate/internal/schema"
)

// Validation bounds. Values below these are almost certainly config
// mistakes rather than deliberate tuning.
const (
	minBufferBytes     = 1024 // 1 KiB
	minChunkBytes      = 1024
	minTargetBytes     = 1024
	minBufferAge       = time.Second
	minOrphanAge       = time.Minute
	minTickInterval    = time.Second
	minShutdownWait    = time.Second
	minQueuePoll       = 10 * time.Millisecond
	minCacheTTL        = time.Second
	minSnapshotsToKeep = 1
)

// identPattern matches names spliced into object keys and registry
// lookups: gateway IDs and source names.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks every section and returns all problems joined, so a
// config file with three mistakes reports three messages in one run.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateGateway(&cfg.Gateway)...)
	errs = append(errs, validateBuffer(&cfg.Buffer)...)
	errs = append(errs, validateFlush(&cfg.Flush)...)
	errs = append(errs, validateCompaction(&cfg.Compaction)...)
	errs = append(errs, validateMaintenance(&cfg.Maintenance)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateCheckpoint(&cfg.Checkpoint)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateCatalog(&cfg.Catalog)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateActions(&cfg.Actions)...)
	errs = append(errs, validateSources(cfg.Sources)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateGateway(g *GatewayConfig) []error {
	var errs []error

	if g.ID != "" && !identPattern.MatchString(g.ID) {
		errs = append(errs, fmt.Errorf(
			"gateway.id: must match %s (it is spliced into object keys), got %q",
			identPattern.String(), g.ID))
	}

	if g.TableSchema != nil {
		errs = append(errs, validateTableSchema(g.TableSchema)...)
	}

	return errs
}

func validateTableSchema(ts *schema.TableSchema) []error {
	var errs []error

	if ts.Table == "" {
		errs = append(errs, errors.New("gateway.table_schema.table: must not be empty"))
	}

	if len(ts.Columns) == 0 {
		errs = append(errs, errors.New("gateway.table_schema.columns: must declare at least one column"))
	}

	declared := make(map[string]bool, len(ts.Columns))
	for i, col := range ts.Columns {
		if col.Name == "" {
			errs = append(errs, fmt.Errorf("gateway.table_schema.columns[%d].name: must not be empty", i))
		}
		declared[col.Name] = true

		switch col.Type {
		case schema.TypeString, schema.TypeNumber, schema.TypeBoolean, schema.TypeJSON, schema.TypeNull:
		default:
			errs = append(errs, fmt.Errorf(
				"gateway.table_schema.columns[%d].type: must be one of string, number, boolean, json, null; got %q",
				i, col.Type))
		}
	}

	if ts.PrimaryKey != "" && !declared[ts.PrimaryKey] {
		errs = append(errs, fmt.Errorf(
			"gateway.table_schema.primary_key: %q is not a declared column", ts.PrimaryKey))
	}
	if ts.ExternalIDColumn != "" && !declared[ts.ExternalIDColumn] {
		errs = append(errs, fmt.Errorf(
			"gateway.table_schema.external_id_column: %q is not a declared column", ts.ExternalIDColumn))
	}

	return errs
}

func validateBuffer(b *BufferConfig) []error {
	var errs []error

	maxBytes, sizeErrs := parseSizeMin("buffer.max_bytes", b.MaxBytes, minBufferBytes)
	errs = append(errs, sizeErrs...)

	errs = append(errs, validateDurationMin("buffer.max_age", b.MaxAge, minBufferAge)...)

	backpressure, err := ParseSize(b.BackpressureBytes)
	if err != nil {
		errs = append(errs, fmt.Errorf("buffer.backpressure_bytes: %w", err))
	} else if backpressure > 0 && maxBytes > 0 && backpressure < maxBytes {
		errs = append(errs, fmt.Errorf(
			"buffer.backpressure_bytes: must be at least max_bytes (%s), got %s",
			b.MaxBytes, b.BackpressureBytes))
	}

	if b.Adaptive.Enabled {
		_, thresholdErrs := parseSizeMin("buffer.adaptive.wide_column_threshold", b.Adaptive.WideColumnThreshold, 1)
		errs = append(errs, thresholdErrs...)

		if b.Adaptive.ReductionFactor <= 0 || b.Adaptive.ReductionFactor >= 1 {
			errs = append(errs, fmt.Errorf(
				"buffer.adaptive.reduction_factor: must be between 0 and 1 exclusive, got %g",
				b.Adaptive.ReductionFactor))
		}
	}

	return errs
}

var validFlushFormats = map[string]bool{"json": true, "parquet": true}

var validQueueBackends = map[string]bool{"none": true, "memory": true, "badger": true}

func validateFlush(f *FlushConfig) []error {
	var errs []error

	if !validFlushFormats[f.Format] {
		errs = append(errs, fmt.Errorf("flush.format: must be \"json\" or \"parquet\", got %q", f.Format))
	}

	if strings.HasPrefix(f.KeyPrefix, "/") || strings.Contains(f.KeyPrefix, "..") {
		errs = append(errs, fmt.Errorf("flush.key_prefix: must be a relative key segment, got %q", f.KeyPrefix))
	}

	if !validQueueBackends[f.Queue] {
		errs = append(errs, fmt.Errorf("flush.queue: must be one of none, memory, badger; got %q", f.Queue))
	}

	if f.Queue == "badger" && f.BadgerDir == "" {
		errs = append(errs, errors.New("flush.badger_dir: required when flush.queue is \"badger\""))
	}

	errs = append(errs, validateDurationMin("flush.poll_interval", f.PollInterval, minQueuePoll)...)

	if f.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("flush.max_attempts: must be >= 1, got %d", f.MaxAttempts))
	}

	return errs
}

func validateCompaction(c *CompactionConfig) []error {
	var errs []error

	if c.InputPrefix == "" {
		errs = append(errs, errors.New("compaction.input_prefix: must not be empty (an empty prefix would compact the whole store)"))
	}
	if c.OutputPrefix == "" {
		errs = append(errs, errors.New("compaction.output_prefix: must not be empty"))
	}
	if c.InputPrefix != "" && c.InputPrefix == c.OutputPrefix {
		errs = append(errs, fmt.Errorf(
			"compaction.output_prefix: must differ from input_prefix %q or base files would be re-compacted",
			c.InputPrefix))
	}

	if c.MinDeltaFiles < 1 {
		errs = append(errs, fmt.Errorf("compaction.min_delta_files: must be >= 1, got %d", c.MinDeltaFiles))
	}
	if c.MaxDeltaFiles < c.MinDeltaFiles {
		errs = append(errs, fmt.Errorf(
			"compaction.max_delta_files: must be >= min_delta_files (%d), got %d",
			c.MinDeltaFiles, c.MaxDeltaFiles))
	}

	_, sizeErrs := parseSizeMin("compaction.target_file_size", c.TargetFileSize, minTargetBytes)
	errs = append(errs, sizeErrs...)

	return errs
}

func validateMaintenance(m *MaintenanceConfig) []error {
	var errs []error

	if m.RetainSnapshots < minSnapshotsToKeep {
		errs = append(errs, fmt.Errorf(
			"maintenance.retain_snapshots: must be >= %d, got %d", minSnapshotsToKeep, m.RetainSnapshots))
	}

	errs = append(errs, validateDurationMin("maintenance.orphan_age", m.OrphanAge, minOrphanAge)...)

	if strings.HasPrefix(m.SweepPrefix, "/") {
		errs = append(errs, fmt.Errorf("maintenance.sweep_prefix: must be a relative key prefix, got %q", m.SweepPrefix))
	}

	return errs
}

func validateScheduler(s *SchedulerConfig) []error {
	return validateDurationMin("scheduler.interval", s.Interval, minTickInterval)
}

func validateCheckpoint(c *CheckpointConfig) []error {
	_, errs := parseSizeMin("checkpoint.chunk_size", c.ChunkSize, minChunkBytes)

	return errs
}

var validStorageDrivers = map[string]bool{"memory": true, "fs": true, "gcs": true}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	if !validStorageDrivers[s.Driver] {
		errs = append(errs, fmt.Errorf("storage.driver: must be one of memory, fs, gcs; got %q", s.Driver))
	}

	if s.Driver == "fs" && s.FSRoot == "" {
		errs = append(errs, errors.New("storage.fs_root: required for the fs driver"))
	}

	if s.Driver == "gcs" && s.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket: required for the gcs driver"))
	}

	return errs
}

func validateCatalog(c *CatalogConfig) []error {
	var errs []error

	if c.URL != "" && !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		errs = append(errs, fmt.Errorf("catalog.url: must start with http:// or https://, got %q", c.URL))
	}

	if c.Enabled {
		if c.URL == "" {
			errs = append(errs, errors.New("catalog.url: required when the catalogue is enabled"))
		}
		if len(c.Namespace) == 0 {
			errs = append(errs, errors.New("catalog.namespace: required when the catalogue is enabled"))
		}
	}

	for i, part := range c.Namespace {
		if part == "" {
			errs = append(errs, fmt.Errorf("catalog.namespace[%d]: must not be empty", i))
		}
	}

	if c.OAuth.TokenURL != "" && c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("catalog.oauth.client_id: required when token_url is set"))
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.Addr == "" {
		errs = append(errs, errors.New("server.addr: must not be empty"))
	}

	errs = append(errs, validateDurationMin("server.shutdown_timeout", s.ShutdownTimeout, minShutdownWait)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"auto": true, "text": true, "json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("logging.level: must be one of debug, info, warn, error; got %q", l.Level))
	}

	if !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("logging.format: must be one of auto, text, json; got %q", l.Format))
	}

	return errs
}

var validActionCaches = map[string]bool{"memory": true, "redis": true}

func validateActions(a *ActionsConfig) []error {
	var errs []error

	if !validActionCaches[a.Cache] {
		errs = append(errs, fmt.Errorf("actions.cache: must be \"memory\" or \"redis\", got %q", a.Cache))
	}

	if a.Cache == "redis" && a.Redis.Addr == "" {
		errs = append(errs, errors.New("actions.redis.addr: required for the redis cache"))
	}

	errs = append(errs, validateDurationMin("actions.cache_ttl", a.CacheTTL, minCacheTTL)...)

	if a.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("actions.cache_size: must be >= 0, got %d", a.CacheSize))
	}

	return errs
}

func validateSources(sources map[string]SourceConfig) []error {
	var errs []error

	for name, src := range sources {
		if !identPattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("sources: name %q must match %s", name, identPattern.String()))
		}

		if src.Driver != "sqlite" {
			errs = append(errs, fmt.Errorf("sources.%s.driver: only \"sqlite\" is supported, got %q", name, src.Driver))
		}

		if src.Path == "" {
			errs = append(errs, fmt.Errorf("sources.%s.path: must not be empty", name))
		}
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a
// minimum. The field name is contextual so callers can qualify it.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

// parseSizeMin parses a size string and enforces a lower bound,
// returning the parsed value for cross-field checks.
func parseSizeMin(field, value string, minimum int64) (int64, []error) {
	bytes, err := ParseSize(value)
	if err != nil {
		return 0, []error{fmt.Errorf("%s: %w", field, err)}
	}

	if bytes < minimum {
		return bytes, []error{fmt.Errorf("%s: must be at least %d bytes, got %q", field, minimum, value)}
	}

	return bytes, nil
}
