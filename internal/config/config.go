// Package config handles configuration loading, validation, and management for leaderkey.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// ForceReset is the shortcut that tears down the sequence and restarts
	// capture. Always consumed.
	ForceReset string `toml:"force_reset" json:"force_reset" yaml:"force_reset"`

	// OpenSettings closes an active sequence and opens the settings window.
	OpenSettings string `toml:"open_settings" json:"open_settings" yaml:"open_settings"`

	// Reactivate is what an activation shortcut does while a sequence is
	// active: "hide-and-reset", "reset-to-new-root" or "no-op-if-active".
	Reactivate string `toml:"reactivate" json:"reactivate" yaml:"reactivate"`

	// Activations bind shortcuts to tree variants.
	Activations []ActivationConfig `toml:"activation" json:"activation" yaml:"activation"`

	Sequence   SequenceConfig   `toml:"sequence" json:"sequence" yaml:"sequence"`
	Layout     LayoutConfig     `toml:"layout" json:"layout" yaml:"layout"`
	Queue      QueueConfig      `toml:"queue" json:"queue" yaml:"queue"`
	Health     HealthConfig     `toml:"health" json:"health" yaml:"health"`
	Permission PermissionConfig `toml:"permission" json:"permission" yaml:"permission"`
	Trees      TreesConfig      `toml:"trees" json:"trees" yaml:"trees"`
	Logging    LoggingConfig    `toml:"logging" json:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `toml:"metrics" json:"metrics" yaml:"metrics"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// ActivationConfig binds one shortcut to a tree variant.
type ActivationConfig struct {
	Name string `toml:"name" json:"name" yaml:"name"`

	// Shortcut is written as "mod+mod+key", e.g. "cmd+space".
	Shortcut string `toml:"shortcut" json:"shortcut" yaml:"shortcut"`

	// Variant is "global", "app" or "overlay".
	Variant string `toml:"variant" json:"variant" yaml:"variant"`
}

// SequenceConfig controls how an active sequence stays open.
type SequenceConfig struct {
	// StickyModifier keeps the sequence open while held. Empty disables it.
	StickyModifier string `toml:"sticky_modifier" json:"sticky_modifier" yaml:"sticky_modifier"`

	// ResetOnModifierRelease closes the sequence when the activation
	// modifiers are released.
	ResetOnModifierRelease bool `toml:"reset_on_modifier_release" json:"reset_on_modifier_release" yaml:"reset_on_modifier_release"`
}

// LayoutConfig controls key code translation.
type LayoutConfig struct {
	// Forced uses Table instead of the system keyboard layout.
	Forced bool `toml:"forced" json:"forced" yaml:"forced"`

	// Table maps decimal key codes to characters.
	Table map[string]string `toml:"table" json:"table" yaml:"table"`
}

// QueueConfig sizes the capture handoff queue.
type QueueConfig struct {
	Capacity      int `toml:"capacity" json:"capacity" yaml:"capacity"`
	BatchSize     int `toml:"batch_size" json:"batch_size" yaml:"batch_size"`
	WaitTimeoutMs int `toml:"wait_timeout_ms" json:"wait_timeout_ms" yaml:"wait_timeout_ms"`
}

// HealthConfig tunes the health supervisor.
type HealthConfig struct {
	BaseIntervalMs     int `toml:"base_interval_ms" json:"base_interval_ms" yaml:"base_interval_ms"`
	CriticalIntervalMs int `toml:"critical_interval_ms" json:"critical_interval_ms" yaml:"critical_interval_ms"`
	ActiveIntervalMs   int `toml:"active_interval_ms" json:"active_interval_ms" yaml:"active_interval_ms"`
	LowPowerIntervalMs int `toml:"low_power_interval_ms" json:"low_power_interval_ms" yaml:"low_power_interval_ms"`

	// IdleAfterSec is how long without input before probing slows down.
	IdleAfterSec int `toml:"idle_after_sec" json:"idle_after_sec" yaml:"idle_after_sec"`

	ConsistencyIntervalSec int `toml:"consistency_interval_sec" json:"consistency_interval_sec" yaml:"consistency_interval_sec"`
	WatchdogIntervalSec    int `toml:"watchdog_interval_sec" json:"watchdog_interval_sec" yaml:"watchdog_interval_sec"`

	// InactivitySec is how long capture may go silent before the watchdog
	// forces a reset.
	InactivitySec int `toml:"inactivity_sec" json:"inactivity_sec" yaml:"inactivity_sec"`

	// Memory tiers in megabytes. Zero disables a tier.
	ProactiveMB  int `toml:"proactive_mb" json:"proactive_mb" yaml:"proactive_mb"`
	AggressiveMB int `toml:"aggressive_mb" json:"aggressive_mb" yaml:"aggressive_mb"`
	EmergencyMB  int `toml:"emergency_mb" json:"emergency_mb" yaml:"emergency_mb"`
}

// PermissionConfig controls the accessibility prompt.
type PermissionConfig struct {
	// PromptIntervalSec is the minimum spacing between prompts.
	PromptIntervalSec int `toml:"prompt_interval_sec" json:"prompt_interval_sec" yaml:"prompt_interval_sec"`
}

// TreesConfig locates the action-tree files.
type TreesConfig struct {
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// DebounceMs is how long a changed tree file must be quiet before reload.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", "both" or "discard".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig controls the node_exporter textfile dump.
type MetricsConfig struct {
	// Textfile is written every IntervalSec. Empty disables it.
	Textfile    string `toml:"textfile" json:"textfile" yaml:"textfile"`
	IntervalSec int    `toml:"interval_sec" json:"interval_sec" yaml:"interval_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:      Version,
		ForceReset:   "ctrl+opt+escape",
		OpenSettings: "cmd+,",
		Reactivate:   "hide-and-reset",
		Activations: []ActivationConfig{
			{Name: "global", Shortcut: "cmd+space", Variant: "global"},
		},
		Sequence: SequenceConfig{
			StickyModifier:         "",
			ResetOnModifierRelease: false,
		},
		Layout: LayoutConfig{
			Forced: false,
			Table:  map[string]string{},
		},
		Queue: QueueConfig{
			Capacity:      512,
			BatchSize:     32,
			WaitTimeoutMs: 100,
		},
		Health: HealthConfig{
			BaseIntervalMs:         2000,
			CriticalIntervalMs:     100,
			ActiveIntervalMs:       200,
			LowPowerIntervalMs:     500,
			IdleAfterSec:           300,
			ConsistencyIntervalSec: 5,
			WatchdogIntervalSec:    30,
			InactivitySec:          60,
			ProactiveMB:            50,
			AggressiveMB:           75,
			EmergencyMB:            100,
		},
		Permission: PermissionConfig{
			PromptIntervalSec: 5,
		},
		Trees: TreesConfig{
			Dir:        filepath.Join(LeaderkeyDir(), "trees"),
			DebounceMs: 100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "leaderkey.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Textfile:    "",
			IntervalSec: 15,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := os.Getenv("LEADERKEY_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Trees.Dir}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LeaderkeyDir returns the base leaderkey directory.
// Uses platform-specific paths or the LEADERKEY_DATA_DIR override.
func LeaderkeyDir() string {
	if envDir := os.Getenv("LEADERKEY_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with LEADERKEY_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("LEADERKEY_TREES_DIR"); v != "" {
		c.Trees.Dir = v
	}
	if v := os.Getenv("LEADERKEY_FORCE_RESET"); v != "" {
		c.ForceReset = v
	}
	if v := os.Getenv("LEADERKEY_REACTIVATE"); v != "" {
		c.Reactivate = v
	}

	if v := os.Getenv("LEADERKEY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LEADERKEY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LEADERKEY_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("LEADERKEY_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("LEADERKEY_METRICS_TEXTFILE"); v != "" {
		c.Metrics.Textfile = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:      c.Version,
		ForceReset:   c.ForceReset,
		OpenSettings: c.OpenSettings,
		Reactivate:   c.Reactivate,
		Activations:  append([]ActivationConfig{}, c.Activations...),
		Sequence:     c.Sequence,
		Layout:       LayoutConfig{Forced: c.Layout.Forced, Table: make(map[string]string, len(c.Layout.Table))},
		Queue:        c.Queue,
		Health:       c.Health,
		Permission:   c.Permission,
		Trees:        c.Trees,
		Logging:      c.Logging,
		Metrics:      c.Metrics,
	}
	for k, v := range c.Layout.Table {
		clone.Layout.Table[k] = v
	}
	return clone
}
