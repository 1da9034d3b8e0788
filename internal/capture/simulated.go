package capture

import (
	"sync"

	"leaderkey/internal/event"
)

// SimulatedBackend is a Backend for testing that doesn't hook the real
// keyboard. Deliver plays the role of the OS event thread.
type SimulatedBackend struct {
	mu         sync.Mutex
	available  bool
	reason     string
	createFail [TapCount]bool
	taps       [TapCount]*SimulatedTap
	created    int
	reposted   []event.Event
	repostErr  error
	loopback   bool
}

// NewSimulatedBackend creates an available simulated backend.
func NewSimulatedBackend() *SimulatedBackend {
	return &SimulatedBackend{available: true}
}

// SetAvailable controls what Available reports.
func (b *SimulatedBackend) SetAvailable(ok bool, reason string) {
	b.mu.Lock()
	b.available, b.reason = ok, reason
	b.mu.Unlock()
}

// SetCreateFailure makes NewTap fail for tap id.
func (b *SimulatedBackend) SetCreateFailure(id int, fail bool) {
	b.mu.Lock()
	b.createFail[id] = fail
	b.mu.Unlock()
}

// SetLoopback makes Repost deliver the event back through the taps as a
// synthetic event, the way the OS does.
func (b *SimulatedBackend) SetLoopback(on bool) {
	b.mu.Lock()
	b.loopback = on
	b.mu.Unlock()
}

// SetRepostError makes Repost fail.
func (b *SimulatedBackend) SetRepostError(err error) {
	b.mu.Lock()
	b.repostErr = err
	b.mu.Unlock()
}

// Available implements Backend.
func (b *SimulatedBackend) Available() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available, b.reason
}

// NewTap implements Backend.
func (b *SimulatedBackend) NewTap(id int, sink Sink) (Tap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createFail[id] {
		return nil, ErrTapCreate
	}
	t := &SimulatedTap{id: id, sink: sink, enabled: true}
	b.taps[id] = t
	b.created++
	return t, nil
}

// Repost implements Backend.
func (b *SimulatedBackend) Repost(ev event.Event) error {
	b.mu.Lock()
	if b.repostErr != nil {
		err := b.repostErr
		b.mu.Unlock()
		return err
	}
	b.reposted = append(b.reposted, ev)
	loop := b.loopback
	b.mu.Unlock()

	if loop {
		b.deliver(ev, true)
	}
	return nil
}

// Deliver passes ev through every enabled tap in id order, stopping at the
// first tap that withholds it. It returns whether the event was withheld.
func (b *SimulatedBackend) Deliver(ev event.Event) bool {
	return b.deliver(ev, false)
}

func (b *SimulatedBackend) deliver(ev event.Event, synthetic bool) bool {
	b.mu.Lock()
	taps := b.taps
	b.mu.Unlock()

	for _, t := range taps {
		if t == nil || !t.Enabled() {
			continue
		}
		if t.sink.HandleEvent(t.id, ev, synthetic) {
			return true
		}
	}
	return false
}

// Disable disables tap id and notifies its sink, like the OS does after a
// slow callback.
func (b *SimulatedBackend) Disable(id int, reason DisableReason) {
	t := b.Tap(id)
	if t == nil {
		return
	}
	t.setEnabled(false)
	t.sink.HandleDisabled(id, reason)
}

// Kill disables tap id without notifying anyone.
func (b *SimulatedBackend) Kill(id int) {
	if t := b.Tap(id); t != nil {
		t.setEnabled(false)
	}
}

// Tap returns the most recently created tap with this id.
func (b *SimulatedBackend) Tap(id int) *SimulatedTap {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.taps[id]
}

// Created returns how many taps were created.
func (b *SimulatedBackend) Created() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created
}

// Reposted returns a copy of every re-posted event.
func (b *SimulatedBackend) Reposted() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Event, len(b.reposted))
	copy(out, b.reposted)
	return out
}

// SimulatedTap is a Tap created by SimulatedBackend.
type SimulatedTap struct {
	id   int
	sink Sink

	mu         sync.Mutex
	enabled    bool
	closed     bool
	failEnable bool
	enables    int
}

// Enable implements Tap.
func (t *SimulatedTap) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enables++
	if t.failEnable || t.closed {
		return ErrTapEnable
	}
	t.enabled = true
	return nil
}

// Enabled implements Tap.
func (t *SimulatedTap) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.closed
}

// Close implements Tap.
func (t *SimulatedTap) Close() {
	t.mu.Lock()
	t.closed = true
	t.enabled = false
	t.mu.Unlock()
}

// Closed reports whether Close was called.
func (t *SimulatedTap) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// SetFailEnable makes Enable fail.
func (t *SimulatedTap) SetFailEnable(fail bool) {
	t.mu.Lock()
	t.failEnable = fail
	t.mu.Unlock()
}

// Enables returns how many times Enable was called.
func (t *SimulatedTap) Enables() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enables
}

func (t *SimulatedTap) setEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}
