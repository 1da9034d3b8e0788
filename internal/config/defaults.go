package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "leaderkey"

// xdgDir returns $env/leaderkey, or ~/fallback/leaderkey when env is unset.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(append(append([]string{homeDir()}, fallback...), appName)...)
}

// PlatformDataDir is ~/Library/Application Support/leaderkey on macOS,
// $XDG_DATA_HOME/leaderkey on Linux and ~/.leaderkey elsewhere.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "linux":
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	}
	return filepath.Join(homeDir(), "."+appName)
}

// PlatformConfigDir is the data directory on macOS and
// $XDG_CONFIG_HOME/leaderkey on Linux.
func PlatformConfigDir() string {
	if runtime.GOOS == "linux" {
		return xdgDir("XDG_CONFIG_HOME", ".config")
	}
	return PlatformDataDir()
}

// PlatformLogDir is ~/Library/Logs/leaderkey on macOS and
// $XDG_STATE_HOME/leaderkey on Linux.
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", appName)
	case "linux":
		return xdgDir("XDG_STATE_HOME", ".local", "state")
	}
	return filepath.Join(PlatformDataDir(), "logs")
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

// configNames are tried in order in every search directory.
var configNames = []string{"config.toml", "config.json", "config.yaml", "config.yml"}

// FindConfigFile returns the first config file in the working directory,
// PlatformConfigDir or LeaderkeyDir, or "" when there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir(), LeaderkeyDir()} {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}
