package tree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildMapFirstWins(t *testing.T) {
	first := &Action{Key: "a", Kind: KindOpenURL, Value: "https://first"}
	second := &Action{Key: "a", Kind: KindOpenURL, Value: "https://second"}
	g := &Group{Children: []Node{first, second, &Action{Kind: KindTypeText}}}

	m := g.ChildMap()
	require.Len(t, m, 1)
	assert.Same(t, first, m["a"])
}

func TestValidate(t *testing.T) {
	valid := &Group{Children: []Node{
		&Action{Key: "t", Kind: KindLaunchApplication, Value: "/Applications/Terminal.app"},
		&Group{Key: "o", Children: []Node{&Action{Key: "s", Kind: KindOpenURL, Value: "https://example.com"}}},
	}}
	assert.NoError(t, Validate(valid))

	tests := []struct {
		name string
		root *Group
	}{
		{"nil root", nil},
		{"keyless subgroup", &Group{Children: []Node{&Group{}}}},
		{"multi-char key", &Group{Children: []Node{&Action{Key: "ab", Kind: KindOpenURL}}}},
		{"duplicate keys", &Group{Children: []Node{
			&Action{Key: "a", Kind: KindOpenURL},
			&Action{Key: "a", Kind: KindOpenURL},
		}}},
		{"unknown kind", &Group{Children: []Node{&Action{Key: "a"}}}},
		{"nested macro", &Group{Children: []Node{&Action{Key: "m", Kind: KindRunMacro, Macro: []MacroStep{
			{Action: Action{Kind: KindRunMacro}, Enabled: true},
		}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.root)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, ok := ParseKind(name)
		require.True(t, ok, name)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("teleport")
	assert.False(t, ok)
}

func TestWalk(t *testing.T) {
	inner := &Group{Key: "i"}
	mid := &Group{Key: "m", Children: []Node{inner}}
	root := &Group{Children: []Node{mid, &Action{Key: "a", Kind: KindOpenURL}}}

	var visited []*Group
	root.Walk(func(g *Group) { visited = append(visited, g) })
	assert.Equal(t, []*Group{root, mid, inner}, visited)
}
