package keymap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaderkey/internal/event"
	"leaderkey/internal/tree"
)

func sampleTree() (*tree.Group, *tree.Group) {
	sub := &tree.Group{Key: "o", Children: []tree.Node{
		&tree.Action{Key: "s", Kind: tree.KindOpenURL, Value: "https://example.com"},
		&tree.Action{Key: "S", Kind: tree.KindOpenURL, Value: "https://example.org"},
	}}
	root := &tree.Group{Children: []tree.Node{
		&tree.Action{Key: "t", Kind: tree.KindLaunchApplication, Value: "/Applications/Terminal.app"},
		sub,
	}}
	return root, sub
}

func TestBuildFromGroup(t *testing.T) {
	root, sub := sampleTree()
	idx := BuildFromGroup(root)

	assert.Equal(t, 2, idx.Groups())
	assert.Same(t, root, idx.Root())

	rootMap := idx.Children(root)
	require.Len(t, rootMap, 2)
	assert.Same(t, sub, rootMap["o"])

	subMap := idx.Children(sub)
	assert.Equal(t, sub.ChildMap(), subMap)
}

func TestIndexChildrenOnDemand(t *testing.T) {
	root, _ := sampleTree()
	idx := BuildFromGroup(root)

	stray := &tree.Group{Key: "x", Children: []tree.Node{&tree.Action{Key: "y", Kind: tree.KindTypeText}}}
	m := idx.Children(stray)
	require.Len(t, m, 1)
	assert.Nil(t, idx.Children(nil))
}

func TestStoreInvalidation(t *testing.T) {
	root, _ := sampleTree()
	s := NewStore()
	stamp := time.Unix(1000, 0)

	a := s.Get(GlobalID, stamp, root)
	b := s.Get(GlobalID, stamp, root)
	assert.Same(t, a, b)
	assert.Equal(t, uint64(1), s.Builds())

	c := s.Get(GlobalID, stamp.Add(time.Second), root)
	assert.NotSame(t, a, c)
	assert.Equal(t, uint64(2), s.Builds())

	other, _ := sampleTree()
	d := s.Get(GlobalID, stamp.Add(time.Second), other)
	assert.NotSame(t, c, d)

	s.Get("com.apple.Safari", stamp, root)
	assert.Equal(t, 2, s.Len())

	s.Invalidate(GlobalID)
	assert.Equal(t, 1, s.Len())
	s.InvalidateAll()
	assert.Equal(t, 0, s.Len())
}

func TestResolverShiftCase(t *testing.T) {
	r := NewResolver(ANSILayout{}, 0)

	s, ok := r.Resolve(0, 0)
	require.True(t, ok)
	assert.Equal(t, "a", s)

	s, ok = r.Resolve(0, event.Shift)
	require.True(t, ok)
	assert.Equal(t, "A", s)

	// command does not change the key-string
	s, ok = r.Resolve(0, event.Command)
	require.True(t, ok)
	assert.Equal(t, "a", s)

	s, ok = r.Resolve(event.CodeSpace, 0)
	require.True(t, ok)
	assert.Equal(t, "space", s)

	_, ok = r.Resolve(200, 0)
	assert.False(t, ok)
}

func TestResolverCaches(t *testing.T) {
	r := NewResolver(ANSILayout{}, 0)
	r.Resolve(1, 0)
	r.Resolve(1, 0)
	r.Resolve(1, event.Command)

	st := r.Stats()
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, 1, st.Size)
}

func TestResolverClearOnOverflow(t *testing.T) {
	r := NewResolver(ANSILayout{}, 4)
	for code := uint16(0); code < 5; code++ {
		r.Resolve(code, 0)
	}
	st := r.Stats()
	assert.Equal(t, uint64(1), st.Clears)
	assert.Equal(t, 1, st.Size)
}

func TestResolverForcedLayout(t *testing.T) {
	r := NewResolver(ANSILayout{}, 0)
	s, _ := r.Resolve(12, 0)
	assert.Equal(t, "q", s)

	// AZERTY places 'a' where ANSI has 'q'
	r.SetForcedLayout(true, map[uint16]string{12: "a"})
	s, _ = r.Resolve(12, 0)
	assert.Equal(t, "a", s)
	s, _ = r.Resolve(12, event.Shift)
	assert.Equal(t, "A", s)

	// codes missing from the table fall back to the layout
	s, _ = r.Resolve(13, 0)
	assert.Equal(t, "w", s)

	r.SetForcedLayout(false, nil)
	s, _ = r.Resolve(12, 0)
	assert.Equal(t, "q", s)
}
