package engine

import (
	"fmt"
	"strings"
	"time"

	"leaderkey/internal/event"
	"leaderkey/internal/tree"
)

// State is the sequence state.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Outcome tells the caller what happens to the event that was handled.
type Outcome int

const (
	// PassThrough means the focused application should receive the event.
	PassThrough Outcome = iota
	// Consumed means the event was used by the engine.
	Consumed
)

func (o Outcome) String() string {
	if o == Consumed {
		return "consumed"
	}
	return "pass-through"
}

// Variant selects which tree an activation resolves to.
type Variant int

const (
	// VariantGlobal always uses the global tree.
	VariantGlobal Variant = iota
	// VariantApp uses the frontmost application's tree, falling back to global.
	VariantApp
	// VariantOverlay uses the overlay tree of the frontmost application.
	VariantOverlay
)

var variantNames = []string{"global", "app", "overlay"}

func (v Variant) String() string {
	if int(v) < len(variantNames) {
		return variantNames[v]
	}
	return "unknown"
}

// ParseVariant parses "global", "app" or "overlay".
func ParseVariant(s string) (Variant, error) {
	for i, name := range variantNames {
		if strings.EqualFold(s, name) {
			return Variant(i), nil
		}
	}
	return 0, fmt.Errorf("unknown activation variant %q", s)
}

// ReactivatePolicy decides what an activation shortcut does while a sequence
// is already active.
type ReactivatePolicy int

const (
	// HideAndReset closes the active sequence.
	HideAndReset ReactivatePolicy = iota
	// ResetToNewRoot restarts the sequence at the shortcut's root.
	ResetToNewRoot
	// NoOpIfActive ignores the shortcut.
	NoOpIfActive
)

var policyNames = []string{"hide-and-reset", "reset-to-new-root", "no-op-if-active"}

func (p ReactivatePolicy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return "unknown"
}

// ParseReactivatePolicy parses a policy name.
func ParseReactivatePolicy(s string) (ReactivatePolicy, error) {
	for i, name := range policyNames {
		if strings.EqualFold(s, name) {
			return ReactivatePolicy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown reactivate policy %q", s)
}

// Activation binds a shortcut to a tree variant.
type Activation struct {
	Name     string
	Shortcut event.Shortcut
	Variant  Variant
}

// Settings is the engine configuration.
type Settings struct {
	Activations []Activation
	ForceReset  event.Shortcut
	// OpenSettings closes the sequence and asks for the settings window.
	OpenSettings event.Shortcut
	Reactivate   ReactivatePolicy

	// StickyModifier, while held, keeps the sequence open. Zero disables it.
	StickyModifier         event.Modifiers
	ResetOnModifierRelease bool

	ForcedLayout bool
	LayoutTable  map[uint16]string
}

// Shortcuts lists every activation shortcut.
func (s Settings) Shortcuts() []event.Shortcut {
	out := make([]event.Shortcut, 0, len(s.Activations))
	for _, a := range s.Activations {
		out = append(out, a.Shortcut)
	}
	return out
}

// InstructionKind is the closed set of side effects the engine requests.
type InstructionKind int

const (
	EnterGroup InstructionKind = iota + 1
	DispatchAction
	Shake
	Hide
	OpenSettingsAndHide
	ForceReset
)

var instructionNames = map[InstructionKind]string{
	EnterGroup:          "enterGroup",
	DispatchAction:      "dispatchAction",
	Shake:               "shake",
	Hide:                "hide",
	OpenSettingsAndHide: "openSettingsAndHide",
	ForceReset:          "forceReset",
}

func (k InstructionKind) String() string {
	if s, ok := instructionNames[k]; ok {
		return s
	}
	return "unknown"
}

// Instruction is one requested side effect. Group is set for EnterGroup,
// Action for DispatchAction.
type Instruction struct {
	Kind   InstructionKind
	Group  *tree.Group
	Action *tree.Action
}

func (i Instruction) String() string {
	switch {
	case i.Group != nil:
		return i.Kind.String() + "(" + i.Group.DisplayName() + ")"
	case i.Action != nil:
		return i.Kind.String() + "(" + i.Action.DisplayName() + ")"
	default:
		return i.Kind.String()
	}
}

// Tree is a resolved action tree.
type Tree struct {
	// ID is the bundle identifier the tree belongs to, or keymap.GlobalID.
	ID    string
	Root  *tree.Group
	Stamp time.Time
}

// TreeProvider resolves the root for an activation variant.
type TreeProvider interface {
	Tree(v Variant) (Tree, error)
}

// Presenter receives instructions. Present is called with the engine lock
// held and must not call back into the engine.
type Presenter interface {
	Present(Instruction)
	// Visible reports whether the presentation surface is on screen.
	Visible() bool
}

// Reposter hands withheld events back to the system.
type Reposter interface {
	Repost(ev event.Event) error
}

// GatePublisher receives the state the capture callback needs.
type GatePublisher interface {
	SetShortcuts(activations []event.Shortcut, reset event.Shortcut)
	SetSequenceActive(active bool)
	SetSurfaceVisible(visible bool)
}

// Snapshot is a read-only view of the sequence state.
type Snapshot struct {
	State          State
	TreeID         string
	Root           *tree.Group
	Current        *tree.Group
	Sticky         bool
	StickyToggled  bool
	StickyHeld     bool
	ActivationHeld bool
	Keys           []string
}
