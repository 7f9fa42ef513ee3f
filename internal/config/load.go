package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns
// the resulting Config. Unknown keys are fatal with "did you mean?"
// suggestions: a silently ignored typo in a config file surfaces as
// behaviour that is painful to track down.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise
// returns a Config with all defaults. This keeps the zero-config
// first run working: serve starts against the local fs store without
// a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain: defaults -> config file ->
// environment -> CLI flags. It returns the effective config and the
// config path the chain settled on, so the caller can log which file
// was (or was not) read.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	path := DefaultConfigPath()
	if env.ConfigPath != "" {
		path = env.ConfigPath
	}
	if cli.ConfigPath != "" {
		path = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, path, err
	}

	// CLI overrides last: pointer fields, nil means not specified.
	if cli.LogLevel != nil {
		cfg.Logging.Level = *cli.LogLevel
	}
	if cli.LogFormat != nil {
		cfg.Logging.Format = *cli.LogFormat
	}

	if cli.LogLevel != nil || cli.LogFormat != nil {
		if err := Validate(cfg); err != nil {
			return nil, path, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, path, nil
}
