// Package provider loads action trees from a directory and resolves the
// root for each activation variant.
//
// Layout of the trees directory:
//
//	global.json                 the default tree
//	<bundle-id>.json            tree for one application
//	<bundle-id>.overlay.json    overlay variant for one application
//
// App trees fall back to the global tree; overlay trees fall back to the
// app tree, then the global tree.
package provider

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"leaderkey/internal/engine"
	"leaderkey/internal/keymap"
	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
	"leaderkey/internal/tree"
)

var (
	// ErrNoTree is returned when no file exists for an identifier.
	ErrNoTree = errors.New("provider: no tree")
	// ErrInvalidTree is returned when a file fails schema validation.
	ErrInvalidTree = errors.New("provider: invalid tree file")
)

const (
	fileExt       = ".json"
	overlaySuffix = ".overlay"

	// DefaultDebounce is how long a file must be quiet before a change is
	// applied.
	DefaultDebounce = 100 * time.Millisecond
)

// Options configures a Provider.
type Options struct {
	Dir string
	// Frontmost returns the bundle identifier of the frontmost
	// application. Defaults to FrontmostBundleID.
	Frontmost func() string
	// OnChange runs after a tree file changed on disk.
	OnChange func(id string)
	Debounce time.Duration
	Logger   *logging.Logger
	Metrics  *metrics.Pipeline
}

type entry struct {
	tree    engine.Tree
	modTime time.Time
}

// Provider implements engine.TreeProvider over a directory of JSON files.
type Provider struct {
	dir       string
	frontmost func() string
	onChange  func(string)
	debounce  time.Duration
	log       *logging.Logger
	metrics   *metrics.Pipeline

	mu    sync.Mutex
	cache map[string]entry

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Provider. The schema is compiled eagerly so a broken build
// fails at startup rather than on first activation.
func New(opts Options) (*Provider, error) {
	if _, err := Schema(); err != nil {
		return nil, err
	}
	if opts.Frontmost == nil {
		opts.Frontmost = FrontmostBundleID
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	return &Provider{
		dir:       opts.Dir,
		frontmost: opts.Frontmost,
		onChange:  opts.OnChange,
		debounce:  opts.Debounce,
		log:       opts.Logger.WithComponent("provider"),
		metrics:   opts.Metrics,
		cache:     make(map[string]entry),
	}, nil
}

// Dir returns the trees directory.
func (p *Provider) Dir() string {
	return p.dir
}

// Tree resolves the root for an activation variant.
func (p *Provider) Tree(v engine.Variant) (engine.Tree, error) {
	if v == engine.VariantGlobal {
		return p.Load(keymap.GlobalID)
	}

	app := p.frontmost()
	var candidates []string
	if app != "" {
		if v == engine.VariantOverlay {
			candidates = append(candidates, app+overlaySuffix)
		}
		candidates = append(candidates, app)
	}
	candidates = append(candidates, keymap.GlobalID)

	var lastErr error
	for _, id := range candidates {
		t, err := p.Load(id)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrNoTree) {
			p.log.Warn("skipping tree", "id", id, "error", err)
		}
		lastErr = err
	}
	return engine.Tree{}, lastErr
}

// Load returns the tree for id, reading the file when it changed since the
// last load.
func (p *Provider) Load(id string) (engine.Tree, error) {
	path := p.path(id)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.Tree{}, fmt.Errorf("%w: %s", ErrNoTree, id)
		}
		return engine.Tree{}, err
	}

	p.mu.Lock()
	e, ok := p.cache[id]
	p.mu.Unlock()
	if ok && e.modTime.Equal(info.ModTime()) {
		return e.tree, nil
	}

	root, err := LoadFile(path)
	var probs tree.Problems
	switch {
	case errors.As(err, &probs) && root != nil:
		p.log.Warn("tree has problems", "id", id, "problems", probs.Error())
	case err != nil:
		return engine.Tree{}, err
	}

	t := engine.Tree{ID: id, Root: root, Stamp: info.ModTime()}
	p.mu.Lock()
	p.cache[id] = entry{tree: t, modTime: info.ModTime()}
	p.mu.Unlock()
	p.log.Debug("tree loaded", "id", id)
	return t, nil
}

func (p *Provider) path(id string) string {
	return filepath.Join(p.dir, id+fileExt)
}

// Invalidate drops the cached tree for id.
func (p *Provider) Invalidate(id string) {
	p.mu.Lock()
	delete(p.cache, id)
	p.mu.Unlock()
}

// InvalidateAll drops every cached tree.
func (p *Provider) InvalidateAll() {
	p.mu.Lock()
	p.cache = make(map[string]entry)
	p.mu.Unlock()
}

// IDs lists the identifiers that have a tree file.
func (p *Provider) IDs() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Check loads every tree file and returns the findings per identifier.
// Files that load cleanly are absent from the result.
func (p *Provider) Check() (map[string]error, error) {
	ids, err := p.IDs()
	if err != nil {
		return nil, err
	}
	found := make(map[string]error)
	for _, id := range ids {
		if _, err := LoadFile(p.path(id)); err != nil {
			found[id] = err
		}
	}
	if _, err := os.Stat(p.path(keymap.GlobalID)); err != nil {
		found[keymap.GlobalID] = fmt.Errorf("%w: %s", ErrNoTree, keymap.GlobalID)
	}
	return found, nil
}

// idFromPath maps a file path back to its identifier.
func idFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return strings.TrimSuffix(name, fileExt), true
}
