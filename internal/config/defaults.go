package config

// Default values for every section. Keeping them in one const block
// makes the TOML template, the validators, and the tests agree on a
// single source.
const (
	DefaultBufferMaxBytes    = "4MiB"
	DefaultBufferMaxAge      = "30s"
	DefaultWideColumn        = "32KiB"
	DefaultReductionFactor   = 0.5
	DefaultFlushFormat       = "parquet"
	DefaultFlushQueue        = "none"
	DefaultQueuePollInterval = "1s"
	DefaultQueueMaxAttempts  = 3
	DefaultInputPrefix       = "deltas/"
	DefaultOutputPrefix      = "compacted/"
	DefaultMinDeltaFiles     = 10
	DefaultMaxDeltaFiles     = 20
	DefaultTargetFileSize    = "128MiB"
	DefaultRetainSnapshots   = 5
	DefaultOrphanAge         = "1h"
	DefaultSchedulerInterval = "60s"
	DefaultChunkSize         = "16MiB"
	DefaultStorageDriver     = "fs"
	DefaultFSRoot            = "lakegate-data"
	DefaultServerAddr        = ":8080"
	DefaultShutdownTimeout   = "10s"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "auto"
	DefaultActionCache       = "memory"
	DefaultActionCacheTTL    = "5m"
	DefaultActionCacheSize   = 10000
)

// DefaultConfig returns a Config with every field at its default.
// Load decodes the TOML file over this value, so keys absent from the
// file keep these settings.
func DefaultConfig() *Config {
	return &Config{
		Gateway:     defaultGateway(),
		Buffer:      defaultBuffer(),
		Flush:       defaultFlush(),
		Compaction:  defaultCompaction(),
		Maintenance: defaultMaintenance(),
		Scheduler:   SchedulerConfig{Enabled: true, Interval: DefaultSchedulerInterval},
		Checkpoint:  CheckpointConfig{Enabled: true, ChunkSize: DefaultChunkSize},
		Storage:     StorageConfig{Driver: DefaultStorageDriver, FSRoot: DefaultFSRoot},
		Catalog:     CatalogConfig{Namespace: []string{"lakegate"}},
		Server:      ServerConfig{Addr: DefaultServerAddr, ShutdownTimeout: DefaultShutdownTimeout},
		Logging:     LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Actions:     defaultActions(),
		Sources:     map[string]SourceConfig{},
	}
}

func defaultGateway() GatewayConfig {
	return GatewayConfig{
		WatchRules: true,
	}
}

func defaultBuffer() BufferConfig {
	return BufferConfig{
		MaxBytes:          DefaultBufferMaxBytes,
		MaxAge:            DefaultBufferMaxAge,
		BackpressureBytes: "0",
		Adaptive: AdaptiveConfig{
			WideColumnThreshold: DefaultWideColumn,
			ReductionFactor:     DefaultReductionFactor,
		},
	}
}

func defaultFlush() FlushConfig {
	return FlushConfig{
		Format:       DefaultFlushFormat,
		Queue:        DefaultFlushQueue,
		PollInterval: DefaultQueuePollInterval,
		MaxAttempts:  DefaultQueueMaxAttempts,
	}
}

func defaultCompaction() CompactionConfig {
	return CompactionConfig{
		InputPrefix:    DefaultInputPrefix,
		OutputPrefix:   DefaultOutputPrefix,
		MinDeltaFiles:  DefaultMinDeltaFiles,
		MaxDeltaFiles:  DefaultMaxDeltaFiles,
		TargetFileSize: DefaultTargetFileSize,
	}
}

func defaultMaintenance() MaintenanceConfig {
	return MaintenanceConfig{
		RetainSnapshots: DefaultRetainSnapshots,
		OrphanAge:       DefaultOrphanAge,
	}
}

func defaultActions() ActionsConfig {
	return ActionsConfig{
		Cache:     DefaultActionCache,
		CacheTTL:  DefaultActionCacheTTL,
		CacheSize: DefaultActionCacheSize,
	}
}
