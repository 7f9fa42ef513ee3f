// Package config implements TOML configuration loading, validation,
// and rendering for the lakegate daemon. A file is decoded over
// DefaultConfig so unset keys keep their defaults, unknown keys fail
// loading with "did you mean?" suggestions, and validation reports
// every problem at once with field-qualified messages.
//
// Byte sizes are strings accepting SI (KB, MB) and IEC (KiB, MiB)
// suffixes; durations use Go duration syntax ("30s", "1h"). Both are
// parsed again where the value is wired, after validation has proven
// them well formed.
package config

import (
	"github.com/lakegate/lakegate/internal/schema"
)

// Config is the root of the TOML file. Each field maps to one
// bracketed section.
type Config struct {
	Gateway     GatewayConfig           `toml:"gateway"`
	Buffer      BufferConfig            `toml:"buffer"`
	Flush       FlushConfig             `toml:"flush"`
	Compaction  CompactionConfig        `toml:"compaction"`
	Maintenance MaintenanceConfig       `toml:"maintenance"`
	Scheduler   SchedulerConfig         `toml:"scheduler"`
	Checkpoint  CheckpointConfig        `toml:"checkpoint"`
	Storage     StorageConfig           `toml:"storage"`
	Catalog     CatalogConfig           `toml:"catalog"`
	Server      ServerConfig            `toml:"server"`
	Logging     LoggingConfig           `toml:"logging"`
	Actions     ActionsConfig           `toml:"actions"`
	Sources     map[string]SourceConfig `toml:"sources"`
}

// GatewayConfig names this gateway and declares what it validates.
type GatewayConfig struct {
	// ID identifies this gateway in object keys and checkpoint
	// manifests. Empty generates a "gw-" UUID at startup, which is
	// fine for experiments but should be pinned in any deployment
	// that compacts or checkpoints across restarts.
	ID string `toml:"id"`

	// RulesPath points at the sync-rules YAML document. Empty
	// disables per-client filtering.
	RulesPath string `toml:"rules_path"`

	// WatchRules reloads the rules file when it changes on disk.
	WatchRules bool `toml:"watch_rules"`

	// TableSchema declares the synced table. When present, pushes
	// are validated against it and parquet output follows its column
	// order. Absent means pushes are only checked structurally.
	TableSchema *schema.TableSchema `toml:"table_schema"`
}

// BufferConfig bounds the in-memory delta buffer.
type BufferConfig struct {
	MaxBytes string `toml:"max_bytes"` // flush threshold
	MaxAge   string `toml:"max_age"`   // flush threshold

	// BackpressureBytes is the hard push-rejection level. "0" means
	// twice max_bytes.
	BackpressureBytes string `toml:"backpressure_bytes"`

	Adaptive AdaptiveConfig `toml:"adaptive"`
}

// AdaptiveConfig shrinks the flush threshold while the average staged
// delta is wider than the threshold, so wide-row bursts flush early.
type AdaptiveConfig struct {
	Enabled             bool    `toml:"enabled"`
	WideColumnThreshold string  `toml:"wide_column_threshold"`
	ReductionFactor     float64 `toml:"reduction_factor"`
}

// FlushConfig shapes flushed batch files and the optional downstream
// queue feeding materialisers.
type FlushConfig struct {
	Format    string `toml:"format"`     // "json" or "parquet"
	KeyPrefix string `toml:"key_prefix"` // extra segment in object keys

	// Queue selects the flush-queue backend: "none", "memory", or
	// "badger". The badger backend persists jobs across restarts and
	// needs badger_dir.
	Queue     string `toml:"queue"`
	BadgerDir string `toml:"badger_dir"`

	// PollInterval and MaxAttempts tune the badger consumer.
	PollInterval string `toml:"poll_interval"`
	MaxAttempts  int    `toml:"max_attempts"`
}

// CompactionConfig bounds one compaction pass.
type CompactionConfig struct {
	InputPrefix    string `toml:"input_prefix"`  // where flushed delta files land
	OutputPrefix   string `toml:"output_prefix"` // where base files are written
	MinDeltaFiles  int    `toml:"min_delta_files"`
	MaxDeltaFiles  int    `toml:"max_delta_files"`
	TargetFileSize string `toml:"target_file_size"`
}

// MaintenanceConfig tunes the periodic cycle around compaction.
type MaintenanceConfig struct {
	RetainSnapshots int `toml:"retain_snapshots"`

	// OrphanAge is how long an unreferenced object must sit before
	// the sweep may remove it. Younger objects can belong to an
	// in-flight flush.
	OrphanAge string `toml:"orphan_age"`

	// SweepPrefix scopes the orphan sweep. Empty sweeps the whole
	// store.
	SweepPrefix string `toml:"sweep_prefix"`
}

// SchedulerConfig drives maintenance cycles on a timer.
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

// CheckpointConfig shapes snapshot generation after compaction.
type CheckpointConfig struct {
	Enabled   bool   `toml:"enabled"`
	ChunkSize string `toml:"chunk_size"`
}

// StorageConfig selects and parameterises the object-store driver.
type StorageConfig struct {
	// Driver is "memory", "fs", or "gcs". Memory loses everything on
	// restart and exists for tests and experiments.
	Driver string `toml:"driver"`

	FSRoot string `toml:"fs_root"` // fs driver: local root directory

	Bucket          string `toml:"bucket"`           // gcs driver
	CredentialsFile string `toml:"credentials_file"` // gcs driver; empty uses ambient credentials
}

// CatalogConfig points flushes at a lakehouse catalogue. Disabled by
// default; flushed files are durable without it.
type CatalogConfig struct {
	Enabled   bool        `toml:"enabled"`
	URL       string      `toml:"url"`
	Namespace []string    `toml:"namespace"`
	OAuth     OAuthConfig `toml:"oauth"`
}

// OAuthConfig holds client-credentials material for the catalogue.
// An empty token_url sends unauthenticated requests.
type OAuthConfig struct {
	TokenURL     string `toml:"token_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// ServerConfig shapes the HTTP listener.
type ServerConfig struct {
	Addr            string `toml:"addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LoggingConfig sets the slog baseline. CLI flags override upward.
type LoggingConfig struct {
	Level string `toml:"level"` // debug, info, warn, error

	// Format is "auto" (text on a TTY, JSON otherwise), "text", or
	// "json".
	Format string `toml:"format"`
}

// ActionsConfig enables the action dispatcher and selects its
// idempotency cache.
type ActionsConfig struct {
	Enabled bool `toml:"enabled"`

	// Cache is "memory" or "redis". Redis makes replay suppression
	// hold across gateways.
	Cache     string `toml:"cache"`
	CacheTTL  string `toml:"cache_ttl"`
	CacheSize int    `toml:"cache_size"` // memory cache only

	Redis RedisConfig `toml:"redis"`
}

// RedisConfig locates the redis idempotency cache.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// SourceConfig declares one pull source, registered under its section
// name: [sources.archive] becomes the source "archive".
type SourceConfig struct {
	Driver string `toml:"driver"` // only "sqlite" for now
	Path   string `toml:"path"`   // sqlite file; ":memory:" works for tests
}

// CLIOverrides carries flag values that override the loaded config.
// Pointer fields distinguish "not set" from an explicit zero value,
// so a flag can force a default back on.
type CLIOverrides struct {
	ConfigPath string
	LogLevel   *string
	LogFormat  *string
}
