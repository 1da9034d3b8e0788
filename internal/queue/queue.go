// Package queue implements the handoff queue between the real-time capture
// callback and the sequence engine.
//
// Thread-Safety:
//   - Enqueue: lock-free CAS reservation, safe for concurrent producers
//   - DequeueBatch: single consumer only
//   - Published flags keep the consumer from reading a half-written slot
//
// Overflow: drop-newest. Enqueue on a full ring returns false and the event
// is not stored; retained events keep their relative order. The producer
// never blocks and never allocates.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	"leaderkey/internal/event"
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 512

// DefaultWaitTimeout bounds consumer parking so periodic checks still run.
const DefaultWaitTimeout = 100 * time.Millisecond

// Producer is the minimal capability handed to the capture callback.
type Producer interface {
	Enqueue(ev event.Event) bool
}

// Ring is a fixed-capacity ring buffer of events.
type Ring struct {
	slots     []event.Event
	published []atomic.Bool
	capacity  uint64
	head      atomic.Uint64 // read index
	tail      atomic.Uint64 // write reservation index
	dropped   atomic.Uint64
}

// NewRing creates a ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		slots:     make([]event.Event, capacity),
		published: make([]atomic.Bool, capacity),
		capacity:  uint64(capacity),
	}
}

// Enqueue stores ev. Returns false if the ring is full.
func (r *Ring) Enqueue(ev event.Event) bool {
	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail-head >= r.capacity {
			r.dropped.Add(1)
			return false
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			idx := tail % r.capacity
			r.slots[idx] = ev
			r.published[idx].Store(true) // MUST be after write
			return true
		}
	}
}

// DequeueBatch removes up to maxCount events in FIFO order.
// Returns nil when nothing is queued. Single consumer only.
func (r *Ring) DequeueBatch(maxCount int) []event.Event {
	if maxCount <= 0 {
		return nil
	}
	head := r.head.Load()
	tail := r.tail.Load()
	if tail == head {
		return nil
	}

	n := tail - head
	if n > uint64(maxCount) {
		n = uint64(maxCount)
	}

	out := make([]event.Event, 0, n)
	for i := uint64(0); i < n; i++ {
		idx := (head + i) % r.capacity
		if !r.published[idx].Load() {
			break // writer incomplete
		}
		out = append(out, r.slots[idx])
		r.slots[idx] = event.Event{}
		r.published[idx].Store(false)
	}
	if len(out) == 0 {
		return nil
	}
	r.head.Store(head + uint64(len(out)))
	return out
}

// IsEmpty reports whether no events are pending.
func (r *Ring) IsEmpty() bool {
	return r.tail.Load() == r.head.Load()
}

// Len returns the approximate pending count.
func (r *Ring) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail <= head {
		return 0
	}
	return int(tail - head)
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return int(r.capacity)
}

// Dropped returns how many events were rejected because the ring was full.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Notifier is a counting wake-up primitive. Signal never blocks.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a notifier that can hold up to capacity pending signals.
func NewNotifier(capacity int) *Notifier {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Notifier{ch: make(chan struct{}, capacity)}
}

// Signal records one pending wake-up. Excess signals are coalesced.
func (n *Notifier) Signal() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until a signal arrives, the timeout elapses, or ctx is done.
// Returns true if a signal was consumed.
func (n *Notifier) Wait(ctx context.Context, timeout time.Duration) bool {
	select {
	case <-n.ch:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-n.ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Handoff pairs a ring with its notifier.
type Handoff struct {
	ring     *Ring
	notify   *Notifier
	timeout  time.Duration
	enqueued atomic.Uint64
}

// NewHandoff creates a handoff queue.
func NewHandoff(capacity int, waitTimeout time.Duration) *Handoff {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &Handoff{
		ring:    NewRing(capacity),
		notify:  NewNotifier(capacity),
		timeout: waitTimeout,
	}
}

// Enqueue stores ev and signals the consumer once. Non-blocking.
func (h *Handoff) Enqueue(ev event.Event) bool {
	if !h.ring.Enqueue(ev) {
		return false
	}
	h.enqueued.Add(1)
	h.notify.Signal()
	return true
}

// DequeueBatch drains up to maxCount events in FIFO order.
func (h *Handoff) DequeueBatch(maxCount int) []event.Event {
	return h.ring.DequeueBatch(maxCount)
}

// IsEmpty reports whether no events are pending.
func (h *Handoff) IsEmpty() bool {
	return h.ring.IsEmpty()
}

// Wait parks the consumer until an event is signaled or the bounded
// timeout elapses.
func (h *Handoff) Wait(ctx context.Context) bool {
	return h.notify.Wait(ctx, h.timeout)
}

// Len returns the approximate pending count.
func (h *Handoff) Len() int {
	return h.ring.Len()
}

// Stats returns the enqueued and dropped totals.
func (h *Handoff) Stats() (enqueued, dropped uint64) {
	return h.enqueued.Load(), h.ring.Dropped()
}

var _ Producer = (*Handoff)(nil)
