package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"leaderkey/internal/event"
	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
	"leaderkey/internal/queue"
)

// Options configures a Manager.
type Options struct {
	Backend  Backend
	Producer queue.Producer
	Gate     *Gate
	Logger   *logging.Logger
	Metrics  *metrics.Pipeline
}

type handle struct {
	tap   Tap // guarded by Manager.mu
	state atomic.Int32

	disables         atomic.Uint64
	reenables        atomic.Uint64
	reenableFailures atomic.Uint64
}

func (h *handle) State() TapState {
	return TapState(h.state.Load())
}

// TapStats is a snapshot of one tap's counters.
type TapStats struct {
	State            TapState
	Disables         uint64
	Reenables        uint64
	ReenableFailures uint64
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	Primary   int
	Captured  uint64
	Consumed  uint64
	Rejected  uint64
	Echoes    uint64
	Failovers uint64
	Restarts  uint64
	Taps      [TapCount]TapStats
}

// Manager runs two redundant taps, forwards every event to the handoff
// queue and keeps at least one tap alive.
type Manager struct {
	backend  Backend
	producer queue.Producer
	gate     *Gate
	log      *logging.Logger
	metrics  *metrics.Pipeline

	mu         sync.Mutex // lifecycle only, never taken by callbacks
	handles    [TapCount]handle
	stop       chan struct{}
	wg         sync.WaitGroup
	primary    atomic.Int32
	monitoring atomic.Bool

	lastActivity atomic.Int64
	reenable     chan int

	captured  atomic.Uint64
	consumed  atomic.Uint64
	rejected  atomic.Uint64
	echoes    atomic.Uint64
	failovers atomic.Uint64
	restarts  atomic.Uint64
}

// NewManager creates a stopped Manager.
func NewManager(opts Options) *Manager {
	if opts.Gate == nil {
		opts.Gate = NewGate()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	return &Manager{
		backend:  opts.Backend,
		producer: opts.Producer,
		gate:     opts.Gate,
		log:      opts.Logger.WithComponent("capture"),
		metrics:  opts.Metrics,
		reenable: make(chan int, TapCount*2),
	}
}

// Gate returns the consume gate shared with the sequence engine.
func (m *Manager) Gate() *Gate {
	return m.gate
}

// HandleEvent implements Sink.
func (m *Manager) HandleEvent(tap int, ev event.Event, synthetic bool) bool {
	if synthetic {
		m.echoes.Add(1)
		return false
	}
	if !m.monitoring.Load() || tap < 0 || tap >= TapCount {
		return false
	}

	p := m.primary.Load()
	if int32(tap) != p {
		// A backup tap only takes over when the primary is known to be down.
		if m.handles[p].State() == StateActive {
			return false
		}
		if m.primary.CompareAndSwap(p, int32(tap)) {
			m.failovers.Add(1)
			m.metrics.TapFailovers.Inc()
		}
	}

	m.lastActivity.Store(time.Now().UnixNano())
	m.captured.Add(1)
	m.metrics.EventsCaptured.Inc()

	ev.Tap = tap
	wasActive := m.gate.SequenceActive()
	ev.Consumed = m.gate.ShouldConsume(&ev)
	if !m.producer.Enqueue(ev) {
		// The consumer never sees this event, so undo any state change the
		// gate made for it.
		if ev.Consumed {
			m.gate.SetSequenceActive(wasActive)
		}
		m.rejected.Add(1)
		m.metrics.EventsDropped.Inc()
		return false
	}
	if ev.Consumed {
		m.consumed.Add(1)
		m.metrics.EventsConsumed.Inc()
	}
	return ev.Consumed
}

// HandleDisabled implements Sink. It switches the primary to the other tap
// when that one is healthy and schedules a re-enable off the event thread.
func (m *Manager) HandleDisabled(tap int, reason DisableReason) {
	if tap < 0 || tap >= TapCount {
		return
	}
	h := &m.handles[tap]
	h.state.Store(int32(reason.state()))
	h.disables.Add(1)
	m.HandleInstantFailover(tap)

	select {
	case m.reenable <- tap:
	default:
	}
}

// HandleInstantFailover makes the other tap primary if tap is primary and
// the other one is active.
func (m *Manager) HandleInstantFailover(tap int) bool {
	other := int32(1 - tap)
	if m.primary.Load() != int32(tap) || m.handles[other].State() != StateActive {
		return false
	}
	if m.primary.CompareAndSwap(int32(tap), other) {
		m.failovers.Add(1)
		m.metrics.TapFailovers.Inc()
		return true
	}
	return false
}

// Start creates both taps. It fails with ErrPermissionDenied when the
// process is not trusted, and with ErrTapCreate when neither tap could be
// created. A single working tap is enough to start.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *Manager) startLocked() error {
	if m.monitoring.Load() {
		return nil
	}
	if ok, why := m.backend.Available(); !ok {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, why)
	}

	var errs []error
	for i := range m.handles {
		h := &m.handles[i]
		tap, err := m.backend.NewTap(i, m)
		if err != nil {
			h.state.Store(int32(StateUninitialized))
			errs = append(errs, fmt.Errorf("tap %d: %w", i, err))
			continue
		}
		h.tap = tap
		h.state.Store(int32(StateActive))
	}
	if len(errs) == TapCount {
		return fmt.Errorf("%w: %w", ErrTapCreate, errors.Join(errs...))
	}
	if len(errs) > 0 {
		m.log.Warn("running on a single tap", "error", errors.Join(errs...))
	}

	m.primary.Store(0)
	if m.handles[0].State() != StateActive {
		m.primary.Store(1)
	}
	m.lastActivity.Store(time.Now().UnixNano())
	m.monitoring.Store(true)

	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.reenableLoop(m.stop)

	m.log.Info("capture started", "primary", m.primary.Load())
	return nil
}

// Stop tears down both taps. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) stopLocked() {
	if !m.monitoring.Swap(false) {
		return
	}
	close(m.stop)
	for i := range m.handles {
		h := &m.handles[i]
		if h.tap != nil {
			h.tap.Close()
			h.tap = nil
		}
		h.state.Store(int32(StateStopped))
	}
	m.log.Info("capture stopped")
}

// Restart stops and starts capture. Restarting from the Stopped state is
// the same as Start.
func (m *Manager) Restart() error {
	began := time.Now()
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	err := m.startLocked()
	m.mu.Unlock()

	m.restarts.Add(1)
	m.metrics.CaptureRestarts.Inc()
	m.metrics.RestartDuration.ObserveDuration(time.Since(began))
	if err != nil {
		m.log.Error("capture restart failed", "error", err)
		return err
	}
	m.log.Info("capture restarted", "took", time.Since(began))
	return nil
}

// CheckAndFailover re-enables disabled taps, recreates missing ones and
// makes sure the primary is a working tap. It returns false only when no
// tap could be brought back.
func (m *Manager) CheckAndFailover() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.monitoring.Load() {
		return false
	}

	alive := 0
	for i := range m.handles {
		if m.reviveLocked(i) {
			alive++
		}
	}
	if alive == 0 {
		return false
	}

	p := m.primary.Load()
	if m.handles[p].State() != StateActive {
		m.HandleInstantFailover(int(p))
	}
	return true
}

func (m *Manager) reviveLocked(i int) bool {
	h := &m.handles[i]
	if h.tap == nil {
		tap, err := m.backend.NewTap(i, m)
		if err != nil {
			m.log.Debug("tap recreate failed", "tap", i, "error", err)
			return false
		}
		h.tap = tap
		h.state.Store(int32(StateActive))
		m.log.Info("tap recreated", "tap", i)
		return true
	}

	if h.tap.Enabled() {
		if h.State() != StateActive {
			h.state.Store(int32(StateActive))
		}
		return true
	}

	// Disabled without a notification reaching us.
	if h.State() == StateActive {
		h.state.Store(int32(StateDisabledByTimeout))
		h.disables.Add(1)
	}
	return m.enableLocked(i)
}

func (m *Manager) enableLocked(i int) bool {
	h := &m.handles[i]
	if h.tap == nil {
		return false
	}
	if err := h.tap.Enable(); err != nil || !h.tap.Enabled() {
		h.reenableFailures.Add(1)
		m.log.Warn("tap re-enable failed", "tap", i, "error", err)

		// Drop the handle so the next check recreates it.
		h.tap.Close()
		h.tap = nil
		h.state.Store(int32(StateUninitialized))
		return false
	}
	h.reenables.Add(1)
	m.metrics.TapReenables.Inc()
	h.state.Store(int32(StateActive))
	return true
}

func (m *Manager) reenableLoop(stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			return
		case i := <-m.reenable:
			m.mu.Lock()
			if m.monitoring.Load() && m.handles[i].State() != StateActive {
				if m.enableLocked(i) {
					m.log.Info("tap re-enabled", "tap", i)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Repost hands a withheld event back to the system.
func (m *Manager) Repost(ev event.Event) error {
	m.metrics.EventsReposted.Inc()
	return m.backend.Repost(ev)
}

// Monitoring reports whether capture is running.
func (m *Manager) Monitoring() bool {
	return m.monitoring.Load()
}

// Primary returns the id of the tap whose events are forwarded.
func (m *Manager) Primary() int {
	return int(m.primary.Load())
}

// TapState returns the state of tap i.
func (m *Manager) TapState(i int) TapState {
	return m.handles[i].State()
}

// ActiveTaps counts taps in the Active state.
func (m *Manager) ActiveTaps() int {
	n := 0
	for i := range m.handles {
		if m.handles[i].State() == StateActive {
			n++
		}
	}
	return n
}

// LastActivity returns when the primary tap last delivered an event, or
// the zero time before the first successful Start.
func (m *Manager) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stats returns a snapshot of counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		Primary:   m.Primary(),
		Captured:  m.captured.Load(),
		Consumed:  m.consumed.Load(),
		Rejected:  m.rejected.Load(),
		Echoes:    m.echoes.Load(),
		Failovers: m.failovers.Load(),
		Restarts:  m.restarts.Load(),
	}
	for i := range m.handles {
		h := &m.handles[i]
		s.Taps[i] = TapStats{
			State:            h.State(),
			Disables:         h.disables.Load(),
			Reenables:        h.reenables.Load(),
			ReenableFailures: h.reenableFailures.Load(),
		}
	}
	return s
}
