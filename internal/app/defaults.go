package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables read by GetDefaults.
const (
	EnvConfigPath = "CARPHOTO_CONFIG_PATH"
	EnvHome       = "CARPHOTO_HOME"
	EnvDiskToken  = "CARPHOTO_DISK_TOKEN"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CARPHOTO_CONFIG_PATH: config file location (default: ~/.config/carphoto.toml)
//   - CARPHOTO_HOME: base directory for carphoto data (default: ~/.local/share/carphoto)
//   - CARPHOTO_DISK_TOKEN: remote disk token, overriding the config file
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"db_dir":      filepath.Join(baseDir, "db"),
		"disk_token":  os.Getenv(EnvDiskToken),
	}, nil
}

// getConfigPath returns the config file path, checking CARPHOTO_CONFIG_PATH first,
// then falling back to the default ~/.config/carphoto.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "carphoto.toml"), nil
}

// getBaseDir returns the base directory for carphoto data, checking CARPHOTO_HOME first,
// then falling back to the XDG default ~/.local/share/carphoto.
func getBaseDir() (string, error) {
	if path := os.Getenv(EnvHome); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "carphoto"), nil
}
