package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is the permission mode for written config
// files. Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file written by "config init".
// Every setting is present as a commented-out default so operators can
// discover the whole surface without reading docs. The file is written
// once and never regenerated.
const configTemplate = `# lakegate configuration

[gateway]
# Gateway identity, spliced into object keys. Empty generates one.
# id = ""

# Sync-rules YAML for per-client filtering; empty disables it.
# rules_path = ""
# watch_rules = true

# Declare the synced table to validate pushes against it:
# [gateway.table_schema]
# table = "tasks"
# primary_key = "id"
# columns = [
#   { name = "id", type = "string" },
#   { name = "title", type = "string" },
# ]

[buffer]
# max_bytes = "4MiB"
# max_age = "30s"
# backpressure_bytes = "0"  # "0" means twice max_bytes

[flush]
# format = "parquet"  # or "json"
# queue = "none"      # none, memory, or badger
# badger_dir = ""

[compaction]
# input_prefix = "deltas/"
# output_prefix = "compacted/"
# min_delta_files = 10
# max_delta_files = 20
# target_file_size = "128MiB"

[maintenance]
# retain_snapshots = 5
# orphan_age = "1h"

[scheduler]
# enabled = true
# interval = "60s"

[checkpoint]
# enabled = true
# chunk_size = "16MiB"

[storage]
# driver = "fs"  # memory, fs, or gcs
# fs_root = "lakegate-data"
# bucket = ""
# credentials_file = ""

[catalog]
# enabled = false
# url = ""
# namespace = ["lakegate"]

[server]
# addr = ":8080"
# shutdown_timeout = "10s"

[logging]
# level = "info"  # debug, info, warn, error
# format = "auto" # auto, text, json

[actions]
# enabled = false
# cache = "memory"  # or "redis"

# Register pull sources by name:
# [sources.archive]
# driver = "sqlite"
# path = "archive.db"
`

// WriteDefault creates a new config file from the template. An
// existing file is never overwritten; operators edit in place once
// the template exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same
// directory as path, then renames it onto the target. A crash cannot
// leave a partially written config behind. Parent directories are
// created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
