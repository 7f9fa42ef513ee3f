package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you
// mean?" suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys maps each top-level section to its valid keys.
var knownSectionKeys = map[string]map[string]bool{
	"gateway": {
		"id": true, "rules_path": true, "watch_rules": true, "table_schema": true,
	},
	"buffer": {
		"max_bytes": true, "max_age": true, "backpressure_bytes": true, "adaptive": true,
	},
	"flush": {
		"format": true, "key_prefix": true, "queue": true, "badger_dir": true,
		"poll_interval": true, "max_attempts": true,
	},
	"compaction": {
		"input_prefix": true, "output_prefix": true, "min_delta_files": true,
		"max_delta_files": true, "target_file_size": true,
	},
	"maintenance": {
		"retain_snapshots": true, "orphan_age": true, "sweep_prefix": true,
	},
	"scheduler": {
		"enabled": true, "interval": true,
	},
	"checkpoint": {
		"enabled": true, "chunk_size": true,
	},
	"storage": {
		"driver": true, "fs_root": true, "bucket": true, "credentials_file": true,
	},
	"catalog": {
		"enabled": true, "url": true, "namespace": true, "oauth": true,
	},
	"server": {
		"addr": true, "shutdown_timeout": true,
	},
	"logging": {
		"level": true, "format": true,
	},
	"actions": {
		"enabled": true, "cache": true, "cache_ttl": true, "cache_size": true, "redis": true,
	},
}

// knownNestedKeys covers the sub-tables whose typos would otherwise
// vanish behind a known parent key.
var knownNestedKeys = map[string]map[string]bool{
	"gateway.table_schema": {
		"table": true, "columns": true, "primary_key": true,
		"soft_delete": true, "external_id_column": true,
	},
	"buffer.adaptive": {
		"enabled": true, "wide_column_threshold": true, "reduction_factor": true,
	},
	"catalog.oauth": {
		"token_url": true, "client_id": true, "client_secret": true,
	},
	"actions.redis": {
		"addr": true, "password": true, "db": true,
	},
}

// knownSourceKeys are the valid keys inside a [sources.NAME] section.
var knownSourceKeys = map[string]bool{
	"driver": true, "path": true,
}

// sectionNames is the sorted list of valid section names for
// Levenshtein matching. Sorted for deterministic suggestions when two
// candidates have the same edit distance.
var sectionNames = func() []string {
	names := make([]string, 0, len(knownSectionKeys)+1)
	for name := range knownSectionKeys {
		names = append(names, name)
	}
	names = append(names, "sources")

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and
// returns an error with "did you mean?" suggestions for each unknown
// key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		if err := buildKeyError(key.String()); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// buildKeyError creates a descriptive error for one unknown key,
// suggesting the closest known key where one is within edit distance.
// Returns nil when the key sits under a known parent whose sub-fields
// are decoded separately (column entries, source sections).
func buildKeyError(keyStr string) error {
	parts := strings.Split(keyStr, ".")
	section := parts[0]

	if section == "sources" {
		return buildSourceKeyError(parts)
	}

	keys, ok := knownSectionKeys[section]
	if !ok {
		if suggestion := closestMatch(section, sectionNames); suggestion != "" {
			return fmt.Errorf("unknown config section %q — did you mean %q?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if len(parts) == 1 {
		return nil
	}

	leaf := parts[1]

	if len(parts) > 2 {
		if nested, found := knownNestedKeys[section+"."+leaf]; found {
			return buildNestedKeyError(section, leaf, parts[2], nested)
		}
		if keys[leaf] {
			return nil // parent is known, sub-fields are expected
		}
	}

	if keys[leaf] {
		return nil
	}

	if suggestion := closestMatch(leaf, sortedKeys(keys)); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s] — did you mean %q?", leaf, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", leaf, section)
}

// buildNestedKeyError reports an unknown key inside a known
// sub-table, e.g. [gateway.table_schema].
func buildNestedKeyError(section, parent, key string, known map[string]bool) error {
	if known[key] {
		return nil // deeper entries under a known sub-key, e.g. column fields
	}

	if suggestion := closestMatch(key, sortedKeys(known)); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s.%s] — did you mean %q?", key, section, parent, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s.%s]", key, section, parent)
}

// buildSourceKeyError validates keys inside [sources.NAME] sections,
// where NAME is free-form.
func buildSourceKeyError(parts []string) error {
	if len(parts) < 3 {
		return fmt.Errorf("unknown config key %q: sources entries are [sources.NAME] tables", strings.Join(parts, "."))
	}

	name, key := parts[1], parts[2]
	if knownSourceKeys[key] {
		return nil
	}

	if suggestion := closestMatch(key, sortedKeys(knownSourceKeys)); suggestion != "" {
		return fmt.Errorf("unknown key %q in source [%q] — did you mean %q?", key, name, suggestion)
	}

	return fmt.Errorf("unknown key %q in source [%q]", key, name)
}

// sortedKeys returns the map's keys sorted, for deterministic
// suggestions when two candidates have the same edit distance.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimisation avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
