package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "clipcloud"

// File and directory names inside the config and data directories.
const (
	configFileName = "config.toml"
	secretsDirName = "secrets"
	queueDBName    = "queue.db"
	servePIDName   = "serve.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/clipcloud).
// On macOS, uses ~/Library/Application Support/clipcloud per Apple guidelines.
// Other platforms fall back to ~/.config/clipcloud.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application data
// (the queue database and stored credentials).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/clipcloud).
// On macOS, uses ~/Library/Application Support/clipcloud (macOS convention
// collapses config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither CLIPCLOUD_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// SecretsDir returns the directory holding stored credentials.
func SecretsDir(dataDir string) string {
	return filepath.Join(dataDir, secretsDirName)
}

// QueueDBPath returns the upload queue database path.
func QueueDBPath(dataDir string) string {
	return filepath.Join(dataDir, queueDBName)
}

// ServePIDPath returns the lock file held by a running `serve`.
func ServePIDPath(dataDir string) string {
	return filepath.Join(dataDir, servePIDName)
}
