package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDir returns the path to the dwn config directory (~/.dwn).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".dwn"), nil
}

// DefaultPath returns the path to the named config file under ConfigDir.
// Absolute names are returned as-is. The second result reports whether the file exists.
func DefaultPath(name string) (string, bool, error) {
	if filepath.IsAbs(name) {
		_, err := os.Stat(name)
		return name, err == nil, nil
	}

	dir, err := ConfigDir()
	if err != nil {
		return "", false, err
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return path, false, nil
	}
	return path, true, nil
}
