// Package keymap provides the lookup structures the sequence engine uses to
// turn a key event into a tree node in constant time.
//
// Three caches live here:
//   - Index: every Group's key→child map, precomputed once per tree
//   - Resolver: (key code, modifiers) → key-string, bounded
//   - Store: one Index per identifier (bundle id or "global"), invalidated
//     when the configuration timestamp changes or on explicit reload
package keymap

import (
	"sync"
	"time"

	"leaderkey/internal/tree"
)

// GlobalID is the identifier used for the global (non app-specific) tree.
const GlobalID = "global"

// Index holds the precomputed child maps for one tree.
type Index struct {
	root   *tree.Group
	groups map[*tree.Group]map[string]tree.Node
}

// BuildFromGroup precomputes the key→child map of every Group under root.
func BuildFromGroup(root *tree.Group) *Index {
	idx := &Index{
		root:   root,
		groups: make(map[*tree.Group]map[string]tree.Node),
	}
	if root == nil {
		return idx
	}
	root.Walk(func(g *tree.Group) {
		if _, ok := idx.groups[g]; ok {
			return
		}
		idx.groups[g] = g.ChildMap()
	})
	return idx
}

// Root returns the tree root.
func (i *Index) Root() *tree.Group {
	return i.root
}

// Children returns the key→child map for g. Groups not seen at build time
// get their map built on demand so the lookup never fails.
func (i *Index) Children(g *tree.Group) map[string]tree.Node {
	if g == nil {
		return nil
	}
	if m, ok := i.groups[g]; ok {
		return m
	}
	return g.ChildMap()
}

// Groups returns the number of indexed groups.
func (i *Index) Groups() int {
	return len(i.groups)
}

type storeEntry struct {
	index *Index
	stamp time.Time
}

// Store caches one Index per identifier.
type Store struct {
	mu      sync.Mutex
	entries map[string]storeEntry
	builds  uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]storeEntry)}
}

// Get returns the cached Index for id, rebuilding it from root if the entry
// is missing, was built from a different root, or has a different stamp.
func (s *Store) Get(id string, stamp time.Time, root *tree.Group) *Index {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok && e.stamp.Equal(stamp) && e.index.root == root {
		return e.index
	}
	idx := BuildFromGroup(root)
	s.entries[id] = storeEntry{index: idx, stamp: stamp}
	s.builds++
	return idx
}

// Invalidate drops the cached Index for id.
func (s *Store) Invalidate(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// InvalidateAll drops every cached Index.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.entries = make(map[string]storeEntry)
	s.mu.Unlock()
}

// Len returns the number of cached identifiers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Builds returns how many times an Index was built.
func (s *Store) Builds() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds
}
