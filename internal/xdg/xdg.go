// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

// Package xdg resolves ThinkGreen's XDG Base Directory paths.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "thinkgreen"

// ConfigDir returns the XDG config directory for thinkgreen.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default YAML config path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// EnvFile returns the per-user dotenv path consulted after ./.env.
func EnvFile() string {
	return filepath.Join(ConfigDir(), ".env")
}
