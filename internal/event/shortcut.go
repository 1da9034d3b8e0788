package event

import (
	"fmt"
	"strings"
)

// Shortcut is a key code plus the exact shortcut modifiers that must be held.
type Shortcut struct {
	Code      uint16
	Modifiers Modifiers
	set       bool
}

// NewShortcut builds a shortcut from a code and modifiers.
func NewShortcut(code uint16, mods Modifiers) Shortcut {
	return Shortcut{Code: code, Modifiers: mods.Shortcut(), set: true}
}

// Valid reports whether the shortcut was configured.
func (s Shortcut) Valid() bool {
	return s.set
}

// String renders the shortcut as "mod+mod+key".
func (s Shortcut) String() string {
	if !s.set {
		return ""
	}
	key, ok := KeyName(s.Code)
	if !ok {
		key, ok = ANSICharacter(s.Code, false)
	}
	if !ok {
		key = fmt.Sprintf("#%d", s.Code)
	}
	if mods := s.Modifiers.String(); mods != "" {
		return mods + "+" + key
	}
	return key
}

// ParseShortcut parses strings like "cmd+space", "ctrl+opt+k" or "#49".
// An empty string yields an unset shortcut and no error.
func ParseShortcut(s string) (Shortcut, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Shortcut{}, nil
	}

	parts := strings.Split(s, "+")
	keyPart := strings.ToLower(strings.TrimSpace(parts[len(parts)-1]))
	if keyPart == "" {
		return Shortcut{}, fmt.Errorf("shortcut %q: missing key", s)
	}

	var mods Modifiers
	for _, p := range parts[:len(parts)-1] {
		m, ok := ParseModifier(p)
		if !ok {
			return Shortcut{}, fmt.Errorf("shortcut %q: unknown modifier %q", s, p)
		}
		mods |= m
	}

	var code uint16
	if strings.HasPrefix(keyPart, "#") {
		var n int
		if _, err := fmt.Sscanf(keyPart, "#%d", &n); err != nil || n < 0 || n > 0xffff {
			return Shortcut{}, fmt.Errorf("shortcut %q: invalid key code", s)
		}
		code = uint16(n)
	} else {
		c, ok := CodeFor(keyPart)
		if !ok {
			return Shortcut{}, fmt.Errorf("shortcut %q: unknown key %q", s, keyPart)
		}
		code = c
	}

	return NewShortcut(code, mods), nil
}
