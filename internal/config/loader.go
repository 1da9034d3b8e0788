package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultReloadDebounce is how long the config file must be quiet before
// a reload.
const DefaultReloadDebounce = 100 * time.Millisecond

// codec decodes into and encodes from a Config for one file format.
type codec struct {
	decode func([]byte, *Config) error
	encode func(*Config) ([]byte, error)
}

var tomlCodec = codec{
	decode: func(data []byte, cfg *Config) error {
		_, err := toml.Decode(string(data), cfg)
		return err
	},
	encode: func(cfg *Config) ([]byte, error) {
		var buf bytes.Buffer
		err := toml.NewEncoder(&buf).Encode(cfg)
		return buf.Bytes(), err
	},
}

var codecs = map[string]codec{
	".toml": tomlCodec,
	".json": {
		decode: func(data []byte, cfg *Config) error { return json.Unmarshal(data, cfg) },
		encode: func(cfg *Config) ([]byte, error) { return json.MarshalIndent(cfg, "", "  ") },
	},
	".yaml": {
		decode: func(data []byte, cfg *Config) error { return yaml.Unmarshal(data, cfg) },
		encode: func(cfg *Config) ([]byte, error) { return yaml.Marshal(cfg) },
	},
}

// codecFor picks the codec for a file extension. Unknown extensions are TOML.
func codecFor(ext string) (string, codec) {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if c, ok := codecs[ext]; ok {
		return strings.TrimPrefix(ext, "."), c
	}
	return "toml", tomlCodec
}

// loadConfigFromFile decodes path over DefaultConfig. A missing file yields
// the defaults.
func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	name, c := codecFor(filepath.Ext(path))
	if err := c.decode(data, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", strings.ToUpper(name), err)
	}
	return cfg, nil
}

// Encode renders cfg in the format of ext (".toml", ".json", ".yaml").
func Encode(cfg *Config, ext string) ([]byte, error) {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	name, c := codecFor(ext)
	data, err := c.encode(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", strings.ToUpper(name), err)
	}
	return data, nil
}

// SaveConfig atomically writes cfg in the format implied by path.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// LoadOrCreate loads path, writing the defaults there first when the file
// does not exist. The bool reports whether the file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)
	if created {
		if err := SaveConfig(DefaultConfig(), path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
	}
	cfg, err := NewLoader(path).Load()
	if err != nil {
		return nil, false, err
	}
	return cfg, created, nil
}

// Loader owns the current configuration of one file and, once Watch is
// called, replaces it whenever the file changes.
type Loader struct {
	path     string
	debounce time.Duration

	mu        sync.RWMutex
	config    *Config
	warnings  ValidationErrors
	listeners []func(old, cur *Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
	errs    chan error
	wg      sync.WaitGroup
}

// NewLoader creates a loader for path. Empty means ConfigPath().
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	return &Loader{
		path:     path,
		debounce: DefaultReloadDebounce,
		done:     make(chan struct{}),
		errs:     make(chan error, 1),
	}
}

// Path returns the configuration file.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the file and makes it current without notifying listeners.
func (l *Loader) Load() (*Config, error) {
	cfg, warnings, err := l.read()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.config, l.warnings = cfg, warnings
	l.mu.Unlock()
	return cfg, nil
}

// read decodes, applies environment overrides and validates. Warnings do
// not fail the load.
func (l *Loader) read() (*Config, ValidationErrors, error) {
	cfg, err := loadConfigFromFile(l.path)
	if err != nil {
		return nil, nil, err
	}
	cfg.ApplyEnvOverrides()

	err = cfg.Validate()
	var verrs ValidationErrors
	switch {
	case err == nil:
		return cfg, nil, nil
	case errors.As(err, &verrs) && !verrs.HasErrors():
		return cfg, verrs, nil
	default:
		return nil, nil, fmt.Errorf("validation failed: %w", err)
	}
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Warnings returns the non-fatal findings of the last successful load.
func (l *Loader) Warnings() ValidationErrors {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.warnings
}

// OnChange registers fn to run after every successful reload with the
// replaced and the new configuration.
func (l *Loader) OnChange(fn func(old, cur *Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Reload re-reads the file and notifies listeners. On error the current
// configuration stays in effect.
func (l *Loader) Reload() error {
	cfg, warnings, err := l.read()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	l.mu.Lock()
	old := l.config
	l.config, l.warnings = cfg, warnings
	listeners := append([]func(old, cur *Config){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(old, cfg)
	}
	return nil
}

// Watch reloads the configuration whenever the file changes. The parent
// directory is watched so editors that replace the file are seen.
func (l *Loader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = w
	l.wg.Add(1)
	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	defer l.wg.Done()

	name := filepath.Base(l.path)
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(l.debounce, func() {
				if err := l.Reload(); err != nil {
					l.report(err)
				}
			})
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

// report keeps the newest unread error.
func (l *Loader) report(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// Errors delivers reload and watch failures.
func (l *Loader) Errors() <-chan error {
	return l.errs
}

// Close stops watching. It is safe to call more than once.
func (l *Loader) Close() error {
	select {
	case <-l.done:
		return nil
	default:
		close(l.done)
	}
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.wg.Wait()
	return err
}

// ConfigWatcher is a Loader that has already loaded its file.
type ConfigWatcher struct {
	*Loader
}

// NewConfigWatcher loads path and returns a watcher for it. Start begins
// watching.
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	l := NewLoader(path)
	if _, err := l.Load(); err != nil {
		return nil, err
	}
	return &ConfigWatcher{Loader: l}, nil
}

// Start begins watching for changes.
func (w *ConfigWatcher) Start() error {
	return w.Watch()
}

// Stop stops watching.
func (w *ConfigWatcher) Stop() error {
	return w.Close()
}
