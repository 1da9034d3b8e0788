package keymap

import (
	"strings"
	"sync"

	"leaderkey/internal/event"
)

// DefaultResolveLimit bounds the resolver cache.
const DefaultResolveLimit = 512

// Layout translates a key code to the character the active keyboard layout
// produces for it.
type Layout interface {
	Character(code uint16, shift bool) (string, bool)
}

// ANSILayout is the built-in US ANSI layout.
type ANSILayout struct{}

// Character implements Layout.
func (ANSILayout) Character(code uint16, shift bool) (string, bool) {
	return event.ANSICharacter(code, shift)
}

type resolveKey struct {
	code uint16
	mods event.Modifiers
}

// ResolverStats reports cache effectiveness.
type ResolverStats struct {
	Hits   uint64
	Misses uint64
	Clears uint64
	Size   int
}

// Resolver turns (code, modifiers) into the canonical key-string matched
// against Group keys. Results are cached; the cache is cleared wholesale
// when it reaches its limit.
type Resolver struct {
	mu     sync.Mutex
	cache  map[resolveKey]string
	limit  int
	layout Layout
	forced bool
	table  map[uint16]string
	stats  ResolverStats
}

// NewResolver creates a resolver over layout. A nil layout uses ANSI.
func NewResolver(layout Layout, limit int) *Resolver {
	if layout == nil {
		layout = ANSILayout{}
	}
	if limit <= 0 {
		limit = DefaultResolveLimit
	}
	return &Resolver{
		cache:  make(map[resolveKey]string, 64),
		limit:  limit,
		layout: layout,
	}
}

// SetForcedLayout enables or disables the fixed code→character table that
// overrides the active layout. Clears the cache.
func (r *Resolver) SetForcedLayout(forced bool, table map[uint16]string) {
	cp := make(map[uint16]string, len(table))
	for k, v := range table {
		cp[k] = v
	}

	r.mu.Lock()
	r.forced = forced
	r.table = cp
	r.clearLocked()
	r.mu.Unlock()
}

// Resolve returns the key-string for code under mods. Only Shift affects
// the result; other modifiers are matched by shortcuts, not by tree keys.
func (r *Resolver) Resolve(code uint16, mods event.Modifiers) (string, bool) {
	key := resolveKey{code: code, mods: mods & event.Shift}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.cache[key]; ok {
		r.stats.Hits++
		return s, s != ""
	}
	r.stats.Misses++

	s := r.translate(code, key.mods&event.Shift != 0)
	if len(r.cache) >= r.limit {
		r.clearLocked()
	}
	r.cache[key] = s
	return s, s != ""
}

func (r *Resolver) translate(code uint16, shift bool) string {
	if r.forced {
		if s, ok := r.table[code]; ok {
			if shift {
				return strings.ToUpper(s)
			}
			return s
		}
	}
	if name, ok := event.KeyName(code); ok {
		return name
	}
	if s, ok := r.layout.Character(code, shift); ok && s != "" {
		return s
	}
	return ""
}

// Clear empties the cache.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.clearLocked()
	r.mu.Unlock()
}

func (r *Resolver) clearLocked() {
	if len(r.cache) > 0 {
		r.stats.Clears++
	}
	r.cache = make(map[resolveKey]string, 64)
}

// Stats returns a snapshot of cache statistics.
func (r *Resolver) Stats() ResolverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Size = len(r.cache)
	return s
}
