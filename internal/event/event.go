// Package event defines the low-level keyboard event value that travels from
// the capture callback, through the handoff queue, to the sequence engine.
//
// Events are plain values. A queue slot owns its copy until it is dequeued,
// after which the consumer owns it. Nothing in an Event refers back to OS
// memory, so an Event can outlive the callback that produced it.
package event

import (
	"strings"
	"time"
)

// Kind distinguishes the captured event types.
type Kind uint8

const (
	// KeyDown is a key press (including auto-repeat).
	KeyDown Kind = iota
	// KeyUp is a key release.
	KeyUp
	// FlagsChanged is a modifier transition.
	FlagsChanged
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KeyDown:
		return "key-down"
	case KeyUp:
		return "key-up"
	case FlagsChanged:
		return "flags-changed"
	default:
		return "unknown"
	}
}

// Modifiers is a compact modifier snapshot.
type Modifiers uint8

const (
	Shift Modifiers = 1 << iota
	Control
	Option
	Command
	Function
	CapsLock
)

// ShortcutMask selects the modifiers that participate in shortcut matching.
const ShortcutMask = Shift | Control | Option | Command

// Has reports whether all modifiers in o are set.
func (m Modifiers) Has(o Modifiers) bool {
	return o != 0 && m&o == o
}

// Shortcut returns the modifiers relevant for shortcut matching.
func (m Modifiers) Shortcut() Modifiers {
	return m & ShortcutMask
}

// String renders modifiers the way shortcuts are written in configuration.
func (m Modifiers) String() string {
	var parts []string
	if m&Control != 0 {
		parts = append(parts, "ctrl")
	}
	if m&Option != 0 {
		parts = append(parts, "opt")
	}
	if m&Shift != 0 {
		parts = append(parts, "shift")
	}
	if m&Command != 0 {
		parts = append(parts, "cmd")
	}
	if m&Function != 0 {
		parts = append(parts, "fn")
	}
	if m&CapsLock != 0 {
		parts = append(parts, "caps")
	}
	return strings.Join(parts, "+")
}

// ParseModifier parses a single modifier name.
func ParseModifier(s string) (Modifiers, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shift":
		return Shift, true
	case "ctrl", "control":
		return Control, true
	case "opt", "option", "alt":
		return Option, true
	case "cmd", "command":
		return Command, true
	case "fn", "function":
		return Function, true
	case "caps", "capslock":
		return CapsLock, true
	}
	return 0, false
}

// Event is a captured keyboard event.
type Event struct {
	Kind      Kind
	Code      uint16
	Modifiers Modifiers
	Repeat    bool
	Timestamp time.Time

	// Tap identifies which interception handle delivered the event.
	Tap int

	// Consumed records whether the capture callback swallowed the event.
	// A consumed event the engine decides to pass through must be re-posted.
	Consumed bool
}

// Is reports whether the event is a key-down for the given shortcut.
func (e Event) Is(s Shortcut) bool {
	return e.Kind == KeyDown && s.Valid() && e.Code == s.Code && e.Modifiers.Shortcut() == s.Modifiers
}
