package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaderkey/internal/engine"
	"leaderkey/internal/event"
	"leaderkey/internal/logging"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 512, cfg.Queue.Capacity)
	assert.Equal(t, 32, cfg.Queue.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.QueueWait())
	assert.Equal(t, 5*time.Second, cfg.PromptInterval())
	assert.Equal(t, "trees", filepath.Base(cfg.Trees.Dir))
}

func TestConfigPath(t *testing.T) {
	t.Setenv("LEADERKEY_CONFIG", "")
	assert.Equal(t, "config.toml", filepath.Base(ConfigPath()))

	t.Setenv("LEADERKEY_CONFIG", "/tmp/lk.yaml")
	assert.Equal(t, "/tmp/lk.yaml", ConfigPath())
}

func TestLeaderkeyDirOverride(t *testing.T) {
	t.Setenv("LEADERKEY_DATA_DIR", "/opt/lk")
	assert.Equal(t, "/opt/lk", LeaderkeyDir())
	assert.Equal(t, "/opt/lk/trees", DefaultConfig().Trees.Dir)
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Activations, cfg.Activations)
}

const tomlConfig = `
version = 1
force_reset = "ctrl+opt+k"
reactivate = "reset-to-new-root"

[[activation]]
name = "global"
shortcut = "cmd+space"
variant = "global"

[[activation]]
name = "app"
shortcut = "cmd+shift+space"
variant = "app"

[sequence]
sticky_modifier = "cmd"
reset_on_modifier_release = true

[layout]
forced = true
[layout.table]
"0" = "q"

[queue]
capacity = 256

[health]
watchdog_interval_sec = 10
`

func TestLoadFormats(t *testing.T) {
	tests := map[string]string{
		"config.toml": tomlConfig,
		"config.json": `{"version": 1, "reactivate": "no-op-if-active",
			"activation": [{"name": "g", "shortcut": "cmd+space", "variant": "global"}],
			"queue": {"capacity": 256}}`,
		"config.yaml": "version: 1\nreactivate: no-op-if-active\nactivation:\n  - name: g\n    shortcut: cmd+space\n    variant: global\nqueue:\n  capacity: 256\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			cfg, err := NewLoader(path).Load()
			require.NoError(t, err)
			assert.Equal(t, 256, cfg.Queue.Capacity)
			// untouched sections keep their defaults
			assert.Equal(t, 32, cfg.Queue.BatchSize)
			assert.Equal(t, 100, cfg.Health.CriticalIntervalMs)
		})
	}
}

func TestEngineSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlConfig), 0o644))
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	s, err := cfg.EngineSettings()
	require.NoError(t, err)
	require.Len(t, s.Activations, 2)
	assert.Equal(t, event.NewShortcut(event.CodeSpace, event.Command), s.Activations[0].Shortcut)
	assert.Equal(t, engine.VariantApp, s.Activations[1].Variant)
	assert.Equal(t, event.NewShortcut(event.CodeSpace, event.Command|event.Shift), s.Activations[1].Shortcut)
	assert.Equal(t, event.NewShortcut(40, event.Control|event.Option), s.ForceReset)
	assert.Equal(t, event.NewShortcut(event.CodeComma, event.Command), s.OpenSettings)
	assert.Equal(t, engine.ResetToNewRoot, s.Reactivate)
	assert.Equal(t, event.Command, s.StickyModifier)
	assert.True(t, s.ResetOnModifierRelease)
	assert.True(t, s.ForcedLayout)
	assert.Equal(t, map[uint16]string{0: "q"}, s.LayoutTable)
}

func TestHealthConfig(t *testing.T) {
	h := DefaultConfig().HealthConfig()
	assert.Equal(t, 2*time.Second, h.BaseInterval)
	assert.Equal(t, 100*time.Millisecond, h.CriticalInterval)
	assert.Equal(t, 200*time.Millisecond, h.ActiveInterval)
	assert.Equal(t, 500*time.Millisecond, h.LowPowerInterval)
	assert.Equal(t, 5*time.Minute, h.IdleAfter)
	assert.Equal(t, 5*time.Second, h.ConsistencyInterval)
	assert.Equal(t, 30*time.Second, h.WatchdogInterval)
	assert.Equal(t, 60*time.Second, h.InactivityLimit)
	assert.Equal(t, uint64(50<<20), h.Tiers.Proactive)
	assert.Equal(t, uint64(100<<20), h.Tiers.Emergency)
}

func TestLoggingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = "/tmp/lk.log"

	lc, err := cfg.LoggingConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "file", lc.Output)
	assert.Equal(t, "/tmp/lk.log", lc.FilePath)
	assert.Equal(t, int64(10), lc.MaxSize)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no activations", func(c *Config) { c.Activations = nil }, "activation"},
		{"bad shortcut", func(c *Config) { c.Activations[0].Shortcut = "hyper+space" }, "activation[0].shortcut"},
		{"bad variant", func(c *Config) { c.Activations[0].Variant = "window" }, "activation[0].variant"},
		{"duplicate shortcut", func(c *Config) {
			c.Activations = append(c.Activations, ActivationConfig{Name: "dup", Shortcut: "cmd+space", Variant: "app"})
		}, "activation[1].shortcut"},
		{"reset collides", func(c *Config) { c.ForceReset = "cmd+space" }, "force_reset"},
		{"bad policy", func(c *Config) { c.Reactivate = "toggle" }, "reactivate"},
		{"bad sticky modifier", func(c *Config) { c.Sequence.StickyModifier = "meta" }, "sequence.sticky_modifier"},
		{"bad layout key", func(c *Config) { c.Layout.Table = map[string]string{"x": "a"} }, "layout.table.x"},
		{"tiny queue", func(c *Config) { c.Queue.Capacity = 4 }, "queue.capacity"},
		{"batch over capacity", func(c *Config) { c.Queue.BatchSize = 1024 }, "queue.batch_size"},
		{"critical over base", func(c *Config) { c.Health.CriticalIntervalMs = 5000 }, "health.critical_interval_ms"},
		{"inverted tiers", func(c *Config) { c.Health.AggressiveMB = 10 }, "health.aggressive_mb"},
		{"no prompt interval", func(c *Config) { c.Permission.PromptIntervalSec = 0 }, "permission.prompt_interval_sec"},
		{"no trees dir", func(c *Config) { c.Trees.Dir = "" }, "trees.dir"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"file without path", func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}, "logging.file_path"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			var fields []string
			for _, e := range verrs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestForcedLayoutWithoutTableIsWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Layout.Forced = true

	err := cfg.Validate()
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.False(t, verrs.HasErrors())
	assert.Len(t, verrs.Warnings(), 1)
	assert.NotErrorIs(t, err, ErrInvalidConfig)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[layout]\nforced = true\n"), 0o644))
	l := NewLoader(path)
	_, err = l.Load()
	require.NoError(t, err)
	assert.Len(t, l.Warnings(), 1)
}

func TestLoaderRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`reactivate = "sometimes"`), 0o644))
	_, err := NewLoader(path).Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, os.WriteFile(path, []byte(`[queue`), 0o644))
	_, err = NewLoader(path).Load()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEADERKEY_TREES_DIR", "/srv/trees")
	t.Setenv("LEADERKEY_LOG_LEVEL", "debug")
	t.Setenv("LEADERKEY_REACTIVATE", "no-op-if-active")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/trees", cfg.Trees.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "no-op-if-active", cfg.Reactivate)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Layout.Table["1"] = "s"
	clone := cfg.Clone()

	clone.Activations[0].Shortcut = "cmd+k"
	clone.Layout.Table["1"] = "x"
	assert.Equal(t, "cmd+space", cfg.Activations[0].Shortcut)
	assert.Equal(t, "s", cfg.Layout.Table["1"])
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)
			cfg := DefaultConfig()
			cfg.Reactivate = "no-op-if-active"
			cfg.Layout.Table["12"] = "ä"
			require.NoError(t, SaveConfig(cfg, path))

			got, err := NewLoader(path).Load()
			require.NoError(t, err)
			assert.Equal(t, "no-op-if-active", got.Reactivate)
			assert.Equal(t, "ä", got.Layout.Table["12"])
			assert.Equal(t, cfg.Activations, got.Activations)
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, cfg)
	assert.FileExists(t, path)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "cfg"))
	t.Setenv("LEADERKEY_DATA_DIR", filepath.Join(dir, "data"))
	t.Chdir(dir)

	assert.Empty(t, FindConfigFile())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "config.yaml"), []byte("version: 1\n"), 0o644))
	assert.Equal(t, filepath.Join(dir, "data", "config.yaml"), FindConfigFile())
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlConfig), 0o644))

	w, err := NewConfigWatcher(path)
	require.NoError(t, err)

	var (
		calls  atomic.Int32
		oldCap atomic.Int32
		newCap atomic.Int32
	)
	w.OnChange(func(old, cur *Config) {
		if calls.Load() == 0 {
			oldCap.Store(int32(old.Queue.Capacity))
			newCap.Store(int32(cur.Queue.Capacity))
		}
		calls.Add(1)
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("[queue]\ncapacity = 1024\n"), 0o644))

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(256), oldCap.Load())
	assert.Equal(t, int32(1024), newCap.Load())
	assert.Equal(t, 1024, w.Config().Queue.Capacity)
}

func TestReloadKeepsConfigOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlConfig), 0o644))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`reactivate = "never"`), 0o644))
	assert.Error(t, l.Reload())
	assert.Equal(t, "reset-to-new-root", l.Config().Reactivate)
}
