package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppConfigDir = ".config/lemmings"
)

// GetConfigDir returns ~/.config/lemmings, creating it when missing.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, AppConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// ResolveFilePath prefers a file in the working directory, then one in the
// user config directory. When neither exists the config directory path is
// returned so the caller can create it there.
func ResolveFilePath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	if _, err := os.Stat(filename); err == nil {
		return filename
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return filename
	}
	return filepath.Join(configDir, filename)
}

// ResolveDatabasePath is ResolveFilePath that leaves sqlite special names alone.
func ResolveDatabasePath(name string) string {
	if name == ":memory:" || filepath.IsAbs(name) {
		return name
	}
	return ResolveFilePath(name)
}
