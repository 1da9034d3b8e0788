package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShortcut(t *testing.T) {
	tests := []struct {
		input string
		code  uint16
		mods  Modifiers
		err   bool
	}{
		{"cmd+space", CodeSpace, Command, false},
		{"ctrl+opt+k", 40, Control | Option, false},
		{"Command+Shift+L", 37, Command | Shift, false},
		{"escape", CodeEscape, 0, false},
		{"cmd+#49", 49, Command, false},
		{"hyper+k", 0, 0, true},
		{"cmd+", 0, 0, true},
		{"cmd+nosuchkey", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s, err := ParseShortcut(tt.input)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, s.Valid())
			assert.Equal(t, tt.code, s.Code)
			assert.Equal(t, tt.mods, s.Modifiers)
		})
	}
}

func TestParseShortcutEmpty(t *testing.T) {
	s, err := ParseShortcut("  ")
	require.NoError(t, err)
	assert.False(t, s.Valid())
	assert.Equal(t, "", s.String())
}

func TestShortcutString(t *testing.T) {
	s, err := ParseShortcut("shift+cmd+space")
	require.NoError(t, err)
	assert.Equal(t, "shift+cmd+space", s.String())

	s, err = ParseShortcut("ctrl+k")
	require.NoError(t, err)
	assert.Equal(t, "ctrl+k", s.String())
}

func TestEventIs(t *testing.T) {
	s := NewShortcut(CodeSpace, Command)

	assert.True(t, Event{Kind: KeyDown, Code: CodeSpace, Modifiers: Command}.Is(s))
	// caps lock and fn do not participate in matching
	assert.True(t, Event{Kind: KeyDown, Code: CodeSpace, Modifiers: Command | CapsLock}.Is(s))
	assert.False(t, Event{Kind: KeyUp, Code: CodeSpace, Modifiers: Command}.Is(s))
	assert.False(t, Event{Kind: KeyDown, Code: CodeSpace, Modifiers: Command | Shift}.Is(s))
	assert.False(t, Event{Kind: KeyDown, Code: CodeSpace}.Is(Shortcut{}))
}

func TestModifiersHas(t *testing.T) {
	m := Command | Shift
	assert.True(t, m.Has(Command))
	assert.True(t, m.Has(Command|Shift))
	assert.False(t, m.Has(Option))
	assert.False(t, m.Has(0))
}

func TestANSICharacter(t *testing.T) {
	c, ok := ANSICharacter(0, false)
	require.True(t, ok)
	assert.Equal(t, "a", c)

	c, ok = ANSICharacter(18, true)
	require.True(t, ok)
	assert.Equal(t, "!", c)

	_, ok = ANSICharacter(CodeEscape, false)
	assert.False(t, ok)
}
