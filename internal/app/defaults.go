package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SKYCAT_CONFIG_PATH: config file location (default: ~/.config/skycat.toml)
//   - SKYCAT_HOME: base directory for the catalog, keys and logs (default: ~/.local/share/skycat)
func GetDefaults() (map[string]string, error) {
	configPath, err := fromEnvOrHome("SKYCAT_CONFIG_PATH", ".config", "skycat.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := fromEnvOrHome("SKYCAT_HOME", ".local", "share", "skycat")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func fromEnvOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
