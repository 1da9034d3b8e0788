// Package capture owns the system-wide keyboard interception: two redundant
// taps, the allocation-free decision of which events to withhold from the
// focused application, and recovery when the OS disables a tap.
//
// The callback path (Manager.HandleEvent and Manager.HandleDisabled) runs on
// the OS event thread. It never takes a lock, never allocates and never
// blocks; everything else happens on background goroutines.
package capture

import (
	"errors"
	"sync/atomic"

	"leaderkey/internal/event"
)

var (
	// ErrPermissionDenied means the process is not trusted for input monitoring.
	ErrPermissionDenied = errors.New("capture: accessibility permission not granted")

	// ErrUnavailable means no tap could be created on this platform.
	ErrUnavailable = errors.New("capture: event tap unavailable")

	// ErrTapCreate means the OS refused to create a tap.
	ErrTapCreate = errors.New("capture: tap creation failed")

	// ErrTapEnable means a tap could not be re-enabled.
	ErrTapEnable = errors.New("capture: tap enable failed")
)

// TapCount is the number of redundant interception handles.
const TapCount = 2

// TapState is the lifecycle state of one tap.
type TapState int32

const (
	StateUninitialized TapState = iota
	StateActive
	StateDisabledByTimeout
	StateDisabledByUserInput
	StateStopped
)

func (s TapState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDisabledByTimeout:
		return "disabled-timeout"
	case StateDisabledByUserInput:
		return "disabled-user-input"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DisableReason is why the OS disabled a tap.
type DisableReason int

const (
	DisabledByTimeout DisableReason = iota
	DisabledByUserInput
)

func (r DisableReason) state() TapState {
	if r == DisabledByUserInput {
		return StateDisabledByUserInput
	}
	return StateDisabledByTimeout
}

func (r DisableReason) String() string {
	return r.state().String()
}

// Sink receives callbacks from a tap. Implementations must be safe to call
// from the OS event thread.
type Sink interface {
	// HandleEvent returns true to withhold the event from the focused
	// application. synthetic is set for events this process posted itself.
	HandleEvent(tap int, ev event.Event, synthetic bool) bool

	// HandleDisabled is called when the OS disables a tap.
	HandleDisabled(tap int, reason DisableReason)
}

// Tap is one OS interception handle.
type Tap interface {
	Enable() error
	Enabled() bool
	Close()
}

// Backend creates taps and re-posts events on one platform.
type Backend interface {
	// Available reports whether taps can be created and, if not, why.
	Available() (bool, string)

	// NewTap creates and enables tap id, delivering callbacks to sink.
	NewTap(id int, sink Sink) (Tap, error)

	// Repost hands a previously withheld event back to the system, marked so
	// that this process's own taps ignore it.
	Repost(ev event.Event) error
}

// Gate decides, without locks or allocation, whether a key event is
// withheld. Shortcut tables are replaced wholesale through an atomic
// pointer; the sequence engine publishes its state through atomic flags.
type Gate struct {
	table   atomic.Pointer[gateTable]
	active  atomic.Bool
	visible atomic.Bool
}

// One bit per shortcut-modifier combination, per key code.
type gateTable struct {
	activate [128]uint16
	reset    [128]uint16
}

func (t *gateTable) set(bits *[128]uint16, s event.Shortcut) {
	if !s.Valid() || s.Code >= 128 {
		return
	}
	bits[s.Code] |= 1 << s.Modifiers.Shortcut()
}

func hit(bits *[128]uint16, ev *event.Event) bool {
	return ev.Code < 128 && bits[ev.Code]&(1<<ev.Modifiers.Shortcut()) != 0
}

// NewGate creates a gate that withholds nothing.
func NewGate() *Gate {
	g := &Gate{}
	g.table.Store(&gateTable{})
	return g
}

// SetShortcuts replaces the activation and force-reset shortcuts.
func (g *Gate) SetShortcuts(activations []event.Shortcut, reset event.Shortcut) {
	t := &gateTable{}
	for _, s := range activations {
		t.set(&t.activate, s)
	}
	t.set(&t.reset, reset)
	g.table.Store(t)
}

// SetSequenceActive publishes whether a sequence is active. While active,
// every key-down is withheld.
func (g *Gate) SetSequenceActive(active bool) {
	g.active.Store(active)
}

// SetSurfaceVisible publishes whether the presentation surface is visible.
// While visible, escape is withheld.
func (g *Gate) SetSurfaceVisible(visible bool) {
	g.visible.Store(visible)
}

// SequenceActive reports the published sequence state.
func (g *Gate) SequenceActive() bool {
	return g.active.Load()
}

// ShouldConsume reports whether ev is withheld. Key-ups and modifier
// changes always pass so the system never sees a stuck key.
func (g *Gate) ShouldConsume(ev *event.Event) bool {
	if ev.Kind != event.KeyDown {
		return false
	}
	t := g.table.Load()
	if hit(&t.reset, ev) {
		g.active.Store(false)
		return true
	}
	if hit(&t.activate, ev) {
		// Mark active before the consumer catches up so the key typed right
		// after the leader is not delivered to the application as well.
		if !ev.Repeat {
			g.active.Store(true)
		}
		return true
	}
	if g.active.Load() {
		return true
	}
	return ev.Code == event.CodeEscape && g.visible.Load()
}
