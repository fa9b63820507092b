// Package xdg resolves XDG Base Directory paths for Shopdex.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "shopdex"

// ConfigDir returns the XDG config directory for shopdex.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}
