package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"leaderkey/internal/capture"
	"leaderkey/internal/engine"
	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
)

// Capture is the part of the capture manager the supervisor drives.
type Capture interface {
	CheckAndFailover() bool
	Restart() error
	Monitoring() bool
	ActiveTaps() int
	LastActivity() time.Time
}

// Sequence is the part of the sequence engine the supervisor observes.
type Sequence interface {
	State() engine.State
	SurfaceVisible() bool
	Hide()
	ForceReset()
}

// Config holds the probe timing and memory thresholds.
type Config struct {
	BaseInterval     time.Duration
	CriticalInterval time.Duration
	ActiveInterval   time.Duration
	LowPowerInterval time.Duration
	// IdleAfter is how long without input before the probe treats the
	// system as idle.
	IdleAfter time.Duration

	ConsistencyInterval time.Duration
	WatchdogInterval    time.Duration
	InactivityLimit     time.Duration

	Tiers MemoryTiers
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		BaseInterval:        2 * time.Second,
		CriticalInterval:    100 * time.Millisecond,
		ActiveInterval:      200 * time.Millisecond,
		LowPowerInterval:    500 * time.Millisecond,
		IdleAfter:           5 * time.Minute,
		ConsistencyInterval: 5 * time.Second,
		WatchdogInterval:    30 * time.Second,
		InactivityLimit:     60 * time.Second,
		Tiers:               DefaultMemoryTiers(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseInterval <= 0 {
		c.BaseInterval = d.BaseInterval
	}
	if c.CriticalInterval <= 0 {
		c.CriticalInterval = d.CriticalInterval
	}
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = d.ActiveInterval
	}
	if c.LowPowerInterval <= 0 {
		c.LowPowerInterval = d.LowPowerInterval
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = d.IdleAfter
	}
	if c.ConsistencyInterval <= 0 {
		c.ConsistencyInterval = d.ConsistencyInterval
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = d.WatchdogInterval
	}
	if c.InactivityLimit <= 0 {
		c.InactivityLimit = d.InactivityLimit
	}
	return c
}

// Statistics counts what the supervisor did.
type Statistics struct {
	Probes              uint64
	ProbeFailures       uint64
	RecoveryAttempts    uint64
	RecoverySuccesses   uint64
	RecoveryFailures    uint64
	LastRecoveryLatency time.Duration
	MinRecoveryLatency  time.Duration
	MaxRecoveryLatency  time.Duration
	TotalRecoveryTime   time.Duration
	LastRecovery        time.Time
	ConsistencyFixes    uint64
	WatchdogResets      uint64
	ForceResets         uint64
	Cleanups            [TierEmergency + 1]uint64
	LastTier            Tier
	LastFootprint       uint64
}

// MeanRecoveryLatency returns the average restart latency.
func (s Statistics) MeanRecoveryLatency() time.Duration {
	if s.RecoveryAttempts == 0 {
		return 0
	}
	return s.TotalRecoveryTime / time.Duration(s.RecoveryAttempts)
}

// Options configures a Supervisor.
type Options struct {
	Config   Config
	Capture  Capture
	Sequence Sequence
	Pressure Sampler
	Checker  *Checker
	Logger   *logging.Logger
	Metrics  *metrics.Pipeline
	Crash    *logging.CrashHandler

	// Footprint samples memory use. Defaults to HeapFootprint.
	Footprint func() uint64
	// Cleanup runs for every tier above TierNone, before the runtime
	// releases memory. Typically drops lookup caches.
	Cleanup func(Tier)
	// PermissionDenied runs when a restart failed for lack of permission.
	PermissionDenied func()
}

// Supervisor runs the fast adaptive probe, the consistency probe and the
// watchdog, and owns force-reset.
type Supervisor struct {
	cfg       Config
	capture   Capture
	seq       Sequence
	pressure  Sampler
	checker   *Checker
	log       *logging.Logger
	metrics   *metrics.Pipeline
	crash     *logging.CrashHandler
	footprint func() uint64
	cleanup   func(Tier)
	onDenied  func()

	restartMu sync.Mutex

	mu         sync.Mutex
	stats      Statistics
	lastStatus Status
}

// NewSupervisor creates a Supervisor. Run starts its loops.
func NewSupervisor(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Crash == nil {
		opts.Crash = logging.NewCrashHandler(logging.CrashHandlerConfig{Logger: opts.Logger})
	}
	if opts.Pressure == nil {
		opts.Pressure = SystemSampler()
	}
	if opts.Footprint == nil {
		opts.Footprint = HeapFootprint
	}
	return &Supervisor{
		cfg:       opts.Config.withDefaults(),
		capture:   opts.Capture,
		seq:       opts.Sequence,
		pressure:  opts.Pressure,
		checker:   opts.Checker,
		log:       opts.Logger.WithComponent("health"),
		metrics:   opts.Metrics,
		crash:     opts.Crash,
		footprint: opts.Footprint,
		cleanup:   opts.Cleanup,
		onDenied:  opts.PermissionDenied,
	}
}

// Run starts the three loops and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval func() time.Duration
		pass     func()
	}{
		{"probe", s.NextInterval, func() { s.Probe() }},
		{"consistency", func() time.Duration { return s.cfg.ConsistencyInterval }, func() { s.CheckConsistency() }},
		{"watchdog", func() time.Duration { return s.cfg.WatchdogInterval }, func() { s.Watchdog(ctx) }},
	}
	for _, l := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, l.name, l.interval, l.pass)
		}()
	}
	s.log.Info("supervisor started", "base_interval", s.cfg.BaseInterval)

	wg.Wait()
	s.log.Info("supervisor stopped")
	return nil
}

func (s *Supervisor) loop(ctx context.Context, name string, interval func() time.Duration, pass func()) {
	timer := time.NewTimer(interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if s.crash.Guard("health."+name, nil, pass) {
			s.metrics.RecoveredPanics.Inc()
		}
		timer.Reset(interval())
	}
}

// NextInterval picks the fast probe interval from the current conditions.
func (s *Supervisor) NextInterval() time.Duration {
	p := s.pressure.Sample()
	switch {
	case p.Critical:
		return s.cfg.CriticalInterval
	case s.seq != nil && s.seq.State() == engine.Active:
		return s.cfg.ActiveInterval
	case p.LowPower || s.idle():
		return s.cfg.LowPowerInterval
	default:
		return s.cfg.BaseInterval
	}
}

func (s *Supervisor) idle() bool {
	if !s.capture.Monitoring() {
		return false
	}
	last := s.capture.LastActivity()
	return !last.IsZero() && time.Since(last) > s.cfg.IdleAfter
}

// Probe runs one fast probe. A failed check is retried once; when the
// retry fails too the capture manager is restarted exactly once.
func (s *Supervisor) Probe() bool {
	start := time.Now()
	ok := s.capture.CheckAndFailover() || s.capture.CheckAndFailover()
	s.metrics.ProbeLatency.ObserveDuration(time.Since(start))

	s.mu.Lock()
	s.stats.Probes++
	if !ok {
		s.stats.ProbeFailures++
	}
	s.mu.Unlock()
	if ok {
		return true
	}

	s.metrics.ProbeFailures.Inc()
	s.log.Warn("no working tap, restarting capture")
	return s.RestartCapture() == nil
}

// RestartCapture restarts the capture manager and records the attempt.
func (s *Supervisor) RestartCapture() error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	start := time.Now()
	err := s.capture.Restart()
	took := time.Since(start)

	s.mu.Lock()
	s.stats.RecoveryAttempts++
	s.stats.LastRecoveryLatency = took
	if s.stats.RecoveryAttempts == 1 || took < s.stats.MinRecoveryLatency {
		s.stats.MinRecoveryLatency = took
	}
	s.stats.MaxRecoveryLatency = max(s.stats.MaxRecoveryLatency, took)
	s.stats.TotalRecoveryTime += took
	s.stats.LastRecovery = start
	if err != nil {
		s.stats.RecoveryFailures++
	} else {
		s.stats.RecoverySuccesses++
	}
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) && s.onDenied != nil {
			s.onDenied()
		}
		s.log.Error("capture recovery failed", "error", err, "took", took)
		return err
	}
	s.log.Info("capture recovered", "took", took)
	return nil
}

// CheckConsistency hides a surface that is visible without an active
// sequence. It reports whether the state was consistent.
func (s *Supervisor) CheckConsistency() bool {
	if s.seq == nil {
		return true
	}
	if !s.seq.SurfaceVisible() || s.seq.State() == engine.Active {
		return true
	}
	s.log.Warn("surface visible without a sequence, hiding")
	s.seq.Hide()

	s.mu.Lock()
	s.stats.ConsistencyFixes++
	s.mu.Unlock()
	return false
}

// Watchdog runs one coarse pass: an inactivity reset, a memory sample with
// tiered cleanup, and a component check when a Checker is set.
func (s *Supervisor) Watchdog(ctx context.Context) {
	s.metrics.UpdateUptime()

	if s.capture.Monitoring() {
		if since := time.Since(s.capture.LastActivity()); since > s.cfg.InactivityLimit {
			s.log.Warn("no capture activity", "since", since.Round(time.Second))
			s.mu.Lock()
			s.stats.WatchdogResets++
			s.mu.Unlock()
			if s.seq != nil {
				s.seq.Hide()
			}
			if err := s.ForceReset(); err != nil {
				s.log.Debug("force reset after inactivity", "error", err)
			}
		}
	}

	s.sampleMemory()

	if s.checker != nil {
		s.checker.Check(ctx)
		status := s.checker.OverallStatus()
		s.mu.Lock()
		changed := status != s.lastStatus
		s.lastStatus = status
		s.mu.Unlock()
		if changed {
			s.log.Info("health status", "status", status, "failing", s.checker.Failing())
		}
	}
}

func (s *Supervisor) sampleMemory() Tier {
	used := s.footprint()
	tier := s.cfg.Tiers.Classify(used)
	s.metrics.HeapBytes.Set(int64(used))
	s.metrics.MemoryTier.Set(int64(tier))

	s.mu.Lock()
	s.stats.LastFootprint = used
	s.stats.LastTier = tier
	if tier > TierNone {
		s.stats.Cleanups[tier]++
	}
	s.mu.Unlock()

	if tier == TierNone {
		return tier
	}
	s.log.Info("memory cleanup", "tier", tier, "bytes", used)
	if s.cleanup != nil {
		s.cleanup(tier)
	}
	releaseMemory(tier)
	return tier
}

// ForceReset clears all sequence state and restarts capture. It is safe to
// call at any time and from any goroutine.
func (s *Supervisor) ForceReset() error {
	if s.seq != nil {
		s.seq.ForceReset()
	}
	s.metrics.ForceResets.Inc()
	return s.CompleteForceReset()
}

// CompleteForceReset counts a force-reset whose sequence state was already
// cleared, as the force-reset shortcut does, and restarts capture.
func (s *Supervisor) CompleteForceReset() error {
	s.mu.Lock()
	s.stats.ForceResets++
	s.mu.Unlock()
	return s.RestartCapture()
}

// Statistics returns a copy of the counters.
func (s *Supervisor) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ResetStatistics zeroes the counters.
func (s *Supervisor) ResetStatistics() {
	s.mu.Lock()
	s.stats = Statistics{}
	s.mu.Unlock()
}
