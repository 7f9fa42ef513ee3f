package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate/internal/schema"
)

func TestValidate_ReportsFieldQualifiedErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "gateway id with slash",
			mutate:  func(cfg *Config) { cfg.Gateway.ID = "gw/1" },
			wantErr: "gateway.id",
		},
		{
			name: "table schema without columns",
			mutate: func(cfg *Config) {
				cfg.Gateway.TableSchema = &schema.TableSchema{Table: "tasks"}
			},
			wantErr: "gateway.table_schema.columns",
		},
		{
			name: "table schema unknown type",
			mutate: func(cfg *Config) {
				cfg.Gateway.TableSchema = &schema.TableSchema{
					Table:   "tasks",
					Columns: []schema.Column{{Name: "id", Type: "varchar"}},
				}
			},
			wantErr: "gateway.table_schema.columns[0].type",
		},
		{
			name: "primary key not declared",
			mutate: func(cfg *Config) {
				cfg.Gateway.TableSchema = &schema.TableSchema{
					Table:      "tasks",
					PrimaryKey: "uuid",
					Columns:    []schema.Column{{Name: "id", Type: schema.TypeString}},
				}
			},
			wantErr: `"uuid" is not a declared column`,
		},
		{
			name:    "buffer max bytes malformed",
			mutate:  func(cfg *Config) { cfg.Buffer.MaxBytes = "lots" },
			wantErr: "buffer.max_bytes",
		},
		{
			name:    "buffer max bytes too small",
			mutate:  func(cfg *Config) { cfg.Buffer.MaxBytes = "512" },
			wantErr: "buffer.max_bytes: must be at least 1024 bytes",
		},
		{
			name:    "backpressure below flush threshold",
			mutate:  func(cfg *Config) { cfg.Buffer.BackpressureBytes = "1MiB" },
			wantErr: "buffer.backpressure_bytes: must be at least max_bytes",
		},
		{
			name: "adaptive reduction factor out of range",
			mutate: func(cfg *Config) {
				cfg.Buffer.Adaptive.Enabled = true
				cfg.Buffer.Adaptive.ReductionFactor = 1.5
			},
			wantErr: "buffer.adaptive.reduction_factor",
		},
		{
			name:    "flush format unknown",
			mutate:  func(cfg *Config) { cfg.Flush.Format = "csv" },
			wantErr: "flush.format",
		},
		{
			name:    "badger queue without directory",
			mutate:  func(cfg *Config) { cfg.Flush.Queue = "badger" },
			wantErr: "flush.badger_dir",
		},
		{
			name:    "flush key prefix absolute",
			mutate:  func(cfg *Config) { cfg.Flush.KeyPrefix = "/hot/" },
			wantErr: "flush.key_prefix",
		},
		{
			name:    "compaction empty input prefix",
			mutate:  func(cfg *Config) { cfg.Compaction.InputPrefix = "" },
			wantErr: "compaction.input_prefix",
		},
		{
			name: "compaction prefixes collide",
			mutate: func(cfg *Config) {
				cfg.Compaction.OutputPrefix = cfg.Compaction.InputPrefix
			},
			wantErr: "compaction.output_prefix: must differ from input_prefix",
		},
		{
			name: "compaction max below min",
			mutate: func(cfg *Config) {
				cfg.Compaction.MinDeltaFiles = 10
				cfg.Compaction.MaxDeltaFiles = 5
			},
			wantErr: "compaction.max_delta_files",
		},
		{
			name:    "orphan age dangerously low",
			mutate:  func(cfg *Config) { cfg.Maintenance.OrphanAge = "5s" },
			wantErr: "maintenance.orphan_age",
		},
		{
			name:    "scheduler interval below tick floor",
			mutate:  func(cfg *Config) { cfg.Scheduler.Interval = "100ms" },
			wantErr: "scheduler.interval",
		},
		{
			name:    "checkpoint chunk size tiny",
			mutate:  func(cfg *Config) { cfg.Checkpoint.ChunkSize = "100" },
			wantErr: "checkpoint.chunk_size",
		},
		{
			name:    "storage driver unknown",
			mutate:  func(cfg *Config) { cfg.Storage.Driver = "s3" },
			wantErr: "storage.driver",
		},
		{
			name: "fs driver without root",
			mutate: func(cfg *Config) {
				cfg.Storage.Driver = "fs"
				cfg.Storage.FSRoot = ""
			},
			wantErr: "storage.fs_root",
		},
		{
			name:    "gcs driver without bucket",
			mutate:  func(cfg *Config) { cfg.Storage.Driver = "gcs" },
			wantErr: "storage.bucket",
		},
		{
			name:    "catalog enabled without url",
			mutate:  func(cfg *Config) { cfg.Catalog.Enabled = true },
			wantErr: "catalog.url",
		},
		{
			name:    "catalog url without scheme",
			mutate:  func(cfg *Config) { cfg.Catalog.URL = "nessie.example.com" },
			wantErr: "catalog.url: must start with",
		},
		{
			name: "oauth token url without client id",
			mutate: func(cfg *Config) {
				cfg.Catalog.OAuth.TokenURL = "https://auth.example.com/token"
			},
			wantErr: "catalog.oauth.client_id",
		},
		{
			name:    "server addr empty",
			mutate:  func(cfg *Config) { cfg.Server.Addr = "" },
			wantErr: "server.addr",
		},
		{
			name:    "log level unknown",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "log format unknown",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "pretty" },
			wantErr: "logging.format",
		},
		{
			name:    "redis cache without addr",
			mutate:  func(cfg *Config) { cfg.Actions.Cache = "redis" },
			wantErr: "actions.redis.addr",
		},
		{
			name: "source with unsupported driver",
			mutate: func(cfg *Config) {
				cfg.Sources = map[string]SourceConfig{"archive": {Driver: "postgres", Path: "x"}}
			},
			wantErr: "sources.archive.driver",
		},
		{
			name: "source without path",
			mutate: func(cfg *Config) {
				cfg.Sources = map[string]SourceConfig{"archive": {Driver: "sqlite"}}
			},
			wantErr: "sources.archive.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_JoinsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	cfg.Storage.Driver = "s3"
	cfg.Scheduler.Interval = "not-a-duration"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
	assert.Contains(t, err.Error(), "storage.driver")
	assert.Contains(t, err.Error(), "scheduler.interval")
}
