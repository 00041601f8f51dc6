// Package config provides configuration management for the haul CLI.
package config

import (
	"os"
	"path/filepath"
)

// Dir returns the haul config directory.
// Uses XDG_CONFIG_HOME/haul, defaulting to ~/.config/haul.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "haul"), nil
}
