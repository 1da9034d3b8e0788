// Package engine implements the leader-sequence state machine.
//
// The engine consumes key events in order, matches them against the active
// Group of an action tree and emits Instructions. It performs no side
// effects itself: presentation and action execution sit behind the
// Presenter boundary, re-posting of withheld events behind Reposter.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"leaderkey/internal/event"
	"leaderkey/internal/keymap"
	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
	"leaderkey/internal/tree"
)

// Options configures an Engine.
type Options struct {
	Settings  Settings
	Provider  TreeProvider
	Presenter Presenter
	Reposter  Reposter
	Gate      GatePublisher
	Layout    keymap.Layout
	Logger    *logging.Logger
	Metrics   *metrics.Pipeline
	Crash     *logging.CrashHandler

	// OnForceReset runs after a force-reset shortcut was handled, outside
	// the engine lock. It typically restarts capture.
	OnForceReset func()
}

// Engine is the sequence state machine. All methods are safe for
// concurrent use; events are expected from a single consumer.
type Engine struct {
	provider     TreeProvider
	presenter    Presenter
	reposter     Reposter
	gate         GatePublisher
	resolver     *keymap.Resolver
	store        *keymap.Store
	log          *logging.Logger
	metrics      *metrics.Pipeline
	crash        *logging.CrashHandler
	onForceReset func()

	mu       sync.Mutex
	settings Settings

	state          State
	treeID         string
	root           *tree.Group
	current        *tree.Group
	index          *keymap.Index
	children       map[string]tree.Node
	stickyToggled  bool
	stickyHeld     bool
	activationHeld bool
	activationMods event.Modifiers
	seq            *logging.Logger
}

// New creates an idle engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Crash == nil {
		opts.Crash = logging.NewCrashHandler(logging.CrashHandlerConfig{Logger: opts.Logger})
	}
	if opts.Gate == nil {
		opts.Gate = nopGate{}
	}
	if opts.Presenter == nil {
		opts.Presenter = nopPresenter{}
	}
	e := &Engine{
		provider:     opts.Provider,
		presenter:    opts.Presenter,
		reposter:     opts.Reposter,
		gate:         opts.Gate,
		resolver:     keymap.NewResolver(opts.Layout, 0),
		store:        keymap.NewStore(),
		log:          opts.Logger.WithComponent("engine"),
		metrics:      opts.Metrics,
		crash:        opts.Crash,
		onForceReset: opts.OnForceReset,
	}
	e.seq = e.log
	e.UpdateSettings(opts.Settings)
	return e
}

// UpdateSettings replaces the configuration. An active sequence keeps
// running against its current Group.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()

	e.resolver.SetForcedLayout(s.ForcedLayout, s.LayoutTable)
	e.gate.SetShortcuts(s.Shortcuts(), s.ForceReset)
}

// Invalidate drops the cached lookup structures of one tree.
func (e *Engine) Invalidate(id string) {
	e.store.Invalidate(id)
}

// InvalidateAll drops every cached lookup structure.
func (e *Engine) InvalidateAll() {
	e.store.InvalidateAll()
	e.resolver.Clear()
}

// HandleEvent runs one event through the state machine.
func (e *Engine) HandleEvent(ev event.Event) Outcome {
	outcome, reset := e.locked(ev)

	if !ev.Timestamp.IsZero() {
		e.metrics.DispatchLatency.ObserveDuration(time.Since(ev.Timestamp))
	}
	if reset && e.onForceReset != nil {
		e.onForceReset()
	}
	return outcome
}

func (e *Engine) locked(ev event.Event) (Outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.publishLocked()
	return e.process(ev)
}

func (e *Engine) process(ev event.Event) (Outcome, bool) {
	switch ev.Kind {
	case event.KeyUp:
		return PassThrough, false
	case event.FlagsChanged:
		e.modifiersChanged(ev.Modifiers)
		return PassThrough, false
	}

	e.trackStickyModifier(ev.Modifiers)

	if ev.Is(e.settings.ForceReset) {
		e.log.Info("force reset shortcut")
		e.resetLocked()
		e.presenter.Present(Instruction{Kind: ForceReset})
		e.metrics.ForceResets.Inc()
		return Consumed, true
	}

	if act, ok := e.matchActivation(ev); ok {
		return e.handleActivation(ev, act), false
	}

	if ev.Code == event.CodeEscape {
		if e.state == Active || e.presenter.Visible() {
			e.hideLocked()
			return Consumed, false
		}
		return PassThrough, false
	}

	if e.state != Active {
		return PassThrough, false
	}
	e.activationHeld = false

	if ev.Is(e.settings.OpenSettings) {
		e.resetLocked()
		e.presenter.Present(Instruction{Kind: OpenSettingsAndHide})
		return Consumed, false
	}

	return e.matchKey(ev), false
}

func (e *Engine) matchActivation(ev event.Event) (Activation, bool) {
	for _, a := range e.settings.Activations {
		if ev.Is(a.Shortcut) {
			return a, true
		}
	}
	return Activation{}, false
}

func (e *Engine) handleActivation(ev event.Event, act Activation) Outcome {
	if ev.Repeat {
		return Consumed
	}
	if e.state == Idle {
		return e.activateLocked(act)
	}

	switch e.settings.Reactivate {
	case HideAndReset:
		e.hideLocked()
		return Consumed
	case ResetToNewRoot:
		return e.activateLocked(act)
	default:
		return Consumed
	}
}

func (e *Engine) activateLocked(act Activation) Outcome {
	if e.provider == nil {
		return PassThrough
	}
	t, err := e.provider.Tree(act.Variant)
	if err != nil || t.Root == nil {
		e.log.Warn("no tree for activation", "activation", act.Name, "variant", act.Variant, "error", err)
		if e.state == Active {
			e.hideLocked()
			return Consumed
		}
		return PassThrough
	}

	wasHeld := e.stickyHeld
	e.resetLocked()
	e.stickyHeld = wasHeld

	e.state = Active
	e.treeID = t.ID
	e.root = t.Root
	e.index = e.store.Get(t.ID, t.Stamp, t.Root)
	e.activationMods = act.Shortcut.Modifiers
	e.activationHeld = act.Shortcut.Modifiers.Has(e.settings.StickyModifier)
	e.seq = e.log.WithSequence(e.log.NextSequence())
	e.enterLocked(t.Root)

	e.metrics.Activations.Inc()
	e.seq.Debug("sequence started", "activation", act.Name, "tree", t.ID)
	return Consumed
}

func (e *Engine) enterLocked(g *tree.Group) {
	e.current = g
	e.children = e.index.Children(g)
	if g.StickyMode {
		e.stickyToggled = true
	}
	e.presenter.Present(Instruction{Kind: EnterGroup, Group: g})
}

func (e *Engine) matchKey(ev event.Event) Outcome {
	var node tree.Node
	if key, ok := e.resolver.Resolve(ev.Code, ev.Modifiers); ok {
		node = e.children[key]
	}

	switch n := node.(type) {
	case *tree.Group:
		e.seq.Debug("enter group", "group", n.DisplayName())
		e.enterLocked(n)
		return Consumed

	case *tree.Action:
		if n.Kind == tree.KindToggleStickyMode {
			e.stickyToggled = !e.stickyToggled
			e.seq.Debug("sticky toggled", "sticky", e.stickyToggled)
			return Consumed
		}
		e.presenter.Present(Instruction{Kind: DispatchAction, Action: n})
		e.metrics.ActionsRun.Inc()
		e.seq.Debug("dispatch", "action", n.DisplayName(), "kind", n.Kind)
		if !e.stickyLocked() && !n.Sticky {
			e.hideLocked()
		}
		return Consumed

	default:
		if e.stickyLocked() {
			return PassThrough
		}
		e.presenter.Present(Instruction{Kind: Shake})
		e.metrics.Shakes.Inc()
		return Consumed
	}
}

func (e *Engine) trackStickyModifier(m event.Modifiers) {
	if e.settings.StickyModifier != 0 {
		e.stickyHeld = m.Has(e.settings.StickyModifier)
	}
}

func (e *Engine) modifiersChanged(m event.Modifiers) {
	wasHeld := e.stickyHeld
	e.trackStickyModifier(m)
	ownRelease := e.activationHeld
	if m&e.activationMods == 0 {
		e.activationHeld = false
	}
	if !wasHeld || e.stickyHeld || e.state != Active {
		return
	}
	// The first release after activation belongs to the activation
	// shortcut itself.
	if ownRelease {
		e.activationHeld = false
		return
	}
	if e.settings.ResetOnModifierRelease {
		e.seq.Debug("sticky modifier released")
		e.hideLocked()
	}
}

func (e *Engine) stickyLocked() bool {
	return e.stickyToggled || e.stickyHeld
}

func (e *Engine) hideLocked() {
	e.resetLocked()
	e.presenter.Present(Instruction{Kind: Hide})
}

func (e *Engine) resetLocked() {
	e.state = Idle
	e.treeID = ""
	e.root = nil
	e.current = nil
	e.index = nil
	e.children = nil
	e.stickyToggled = false
	e.stickyHeld = false
	e.activationHeld = false
	e.seq = e.log
}

func (e *Engine) publishLocked() {
	e.gate.SetSequenceActive(e.state == Active)
	e.gate.SetSurfaceVisible(e.presenter.Visible())
	e.metrics.SetSequenceActive(e.state == Active)
}

// ForceReset clears all sequence, sticky and activation state and asks the
// presentation layer to reset. Calling it repeatedly yields the same state.
func (e *Engine) ForceReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.presenter.Present(Instruction{Kind: ForceReset})
	e.publishLocked()
}

// Hide closes any active sequence and requests hide.
func (e *Engine) Hide() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hideLocked()
	e.publishLocked()
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SurfaceVisible reports what the presenter says about the surface.
func (e *Engine) SurfaceVisible() bool {
	return e.presenter.Visible()
}

// CurrentChildren returns a copy of the current Group's key→child map.
func (e *Engine) CurrentChildren() map[string]tree.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.children == nil {
		return nil
	}
	out := make(map[string]tree.Node, len(e.children))
	for k, v := range e.children {
		out[k] = v
	}
	return out
}

// Snapshot returns the current sequence state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		State:          e.state,
		TreeID:         e.treeID,
		Root:           e.root,
		Current:        e.current,
		Sticky:         e.stickyLocked(),
		StickyToggled:  e.stickyToggled,
		StickyHeld:     e.stickyHeld,
		ActivationHeld: e.activationHeld,
	}
	for k := range e.children {
		s.Keys = append(s.Keys, k)
	}
	sort.Strings(s.Keys)
	return s
}

// ResolverStats exposes the key-string cache statistics.
func (e *Engine) ResolverStats() keymap.ResolverStats {
	return e.resolver.Stats()
}

func (s Snapshot) String() string {
	if s.State == Idle {
		return "idle"
	}
	return fmt.Sprintf("active(%s) sticky=%t keys=%v", s.Current.DisplayName(), s.Sticky, s.Keys)
}

type nopPresenter struct{}

func (nopPresenter) Present(Instruction) {}
func (nopPresenter) Visible() bool       { return false }

type nopGate struct{}

func (nopGate) SetShortcuts([]event.Shortcut, event.Shortcut) {}
func (nopGate) SetSequenceActive(bool)                        {}
func (nopGate) SetSurfaceVisible(bool)                        {}
