package config

import (
	"os"
	"path/filepath"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "JTH_CONFIG"

// GetConfigPath returns the configuration file path. It first checks the
// JTH_CONFIG environment variable, then falls back to the default location
// (~/.js-test-helpers/config).
func GetConfigPath() (string, error) {
	if configPath := os.Getenv(EnvConfigPath); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".js-test-helpers", "config"), nil
}
