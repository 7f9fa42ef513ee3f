package config

import "os"

// EnvConfig overrides the config file path, below the --config flag
// in precedence.
const EnvConfig = "LAKEGATE_CONFIG"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string
}

// ReadEnvOverrides reads environment variables and returns any
// overrides found. The Config itself is not touched; Resolve applies
// the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
	}
}
