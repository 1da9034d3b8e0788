package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leaderkey/internal/capture"
	"leaderkey/internal/engine"
	"leaderkey/internal/logging"
	"leaderkey/internal/queue"
)

type fakeCapture struct {
	mu         sync.Mutex
	results    []bool // consumed in order, then stick to the last one
	checks     int
	restarts   int
	restartErr error
	delay      time.Duration
	monitoring bool
	active     int
	last       time.Time
}

func (f *fakeCapture) CheckAndFailover() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if len(f.results) == 0 {
		return true
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r
}

func (f *fakeCapture) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	time.Sleep(f.delay)
	f.restarts++
	if f.restartErr == nil {
		f.last = time.Now()
	}
	return f.restartErr
}

func (f *fakeCapture) Monitoring() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.monitoring
}

func (f *fakeCapture) ActiveTaps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeCapture) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeCapture) counts() (checks, restarts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks, f.restarts
}

type fakeSequence struct {
	mu      sync.Mutex
	state   engine.State
	visible bool
	hides   int
	resets  int
}

func (f *fakeSequence) State() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSequence) SurfaceVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

func (f *fakeSequence) Hide() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides++
	f.state = engine.Idle
	f.visible = false
}

func (f *fakeSequence) ForceReset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.state = engine.Idle
	f.visible = false
}

func newTestSupervisor(c *fakeCapture, seq *fakeSequence, mutate func(*Options)) *Supervisor {
	opts := Options{
		Capture:   c,
		Sequence:  seq,
		Pressure:  SamplerFunc(func() Pressure { return Pressure{} }),
		Logger:    logging.Discard(),
		Crash:     logging.NewCrashHandler(logging.CrashHandlerConfig{Logger: logging.Discard()}),
		Footprint: func() uint64 { return 1 << 20 },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewSupervisor(opts)
}

func TestProbeHealthy(t *testing.T) {
	c := &fakeCapture{monitoring: true}
	s := newTestSupervisor(c, &fakeSequence{}, nil)

	assert.True(t, s.Probe())
	checks, restarts := c.counts()
	assert.Equal(t, 1, checks)
	assert.Equal(t, 0, restarts)
	assert.Equal(t, uint64(1), s.Statistics().Probes)
}

func TestProbeRetryRecovers(t *testing.T) {
	c := &fakeCapture{monitoring: true, results: []bool{false, true}}
	s := newTestSupervisor(c, &fakeSequence{}, nil)

	assert.True(t, s.Probe())
	checks, restarts := c.counts()
	assert.Equal(t, 2, checks)
	assert.Equal(t, 0, restarts)
	assert.Zero(t, s.Statistics().RecoveryAttempts)
}

func TestProbeDoubleFailureRestartsOnce(t *testing.T) {
	c := &fakeCapture{monitoring: true, results: []bool{false}}
	s := newTestSupervisor(c, &fakeSequence{}, nil)

	before := s.Statistics().RecoveryAttempts
	assert.True(t, s.Probe())

	checks, restarts := c.counts()
	assert.Equal(t, 2, checks)
	assert.Equal(t, 1, restarts)

	stats := s.Statistics()
	assert.Equal(t, before+1, stats.RecoveryAttempts)
	assert.Equal(t, uint64(1), stats.RecoverySuccesses)
	assert.Equal(t, uint64(1), stats.ProbeFailures)
	assert.False(t, stats.LastRecovery.IsZero())
	assert.Equal(t, stats.LastRecoveryLatency, stats.MinRecoveryLatency)
	assert.Equal(t, stats.LastRecoveryLatency, stats.MaxRecoveryLatency)
}

func TestRecoveryLatencyRange(t *testing.T) {
	c := &fakeCapture{monitoring: true}
	s := newTestSupervisor(c, &fakeSequence{}, nil)

	for range 3 {
		require.NoError(t, s.RestartCapture())
	}
	c.mu.Lock()
	c.delay = 5 * time.Millisecond
	c.mu.Unlock()
	require.NoError(t, s.RestartCapture())

	stats := s.Statistics()
	assert.Equal(t, uint64(4), stats.RecoveryAttempts)
	assert.GreaterOrEqual(t, stats.MaxRecoveryLatency, 5*time.Millisecond)
	assert.Equal(t, stats.LastRecoveryLatency, stats.MaxRecoveryLatency)
	assert.Less(t, stats.MinRecoveryLatency, stats.MaxRecoveryLatency)
	assert.LessOrEqual(t, stats.MinRecoveryLatency, stats.MeanRecoveryLatency())
	assert.GreaterOrEqual(t, stats.MaxRecoveryLatency, stats.MeanRecoveryLatency())
}

func TestRestartPermissionDenied(t *testing.T) {
	c := &fakeCapture{
		results:    []bool{false},
		restartErr: fmt.Errorf("%w: not trusted", capture.ErrPermissionDenied),
	}
	prompts := 0
	s := newTestSupervisor(c, &fakeSequence{}, func(o *Options) {
		o.PermissionDenied = func() { prompts++ }
	})

	assert.False(t, s.Probe())
	assert.Equal(t, 1, prompts)
	assert.Equal(t, uint64(1), s.Statistics().RecoveryFailures)

	c.restartErr = errors.New("tap create failed")
	assert.False(t, s.Probe())
	assert.Equal(t, 1, prompts)
}

func TestNextInterval(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name     string
		pressure Pressure
		state    engine.State
		last     time.Time
		want     time.Duration
	}{
		{"base", Pressure{}, engine.Idle, time.Now(), cfg.BaseInterval},
		{"critical", Pressure{Critical: true}, engine.Active, time.Now(), cfg.CriticalInterval},
		{"active", Pressure{LowPower: true}, engine.Active, time.Now(), cfg.ActiveInterval},
		{"low power", Pressure{LowPower: true}, engine.Idle, time.Now(), cfg.LowPowerInterval},
		{"idle", Pressure{}, engine.Idle, time.Now().Add(-time.Hour), cfg.LowPowerInterval},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeCapture{monitoring: true, last: tc.last}
			s := newTestSupervisor(c, &fakeSequence{state: tc.state}, func(o *Options) {
				o.Pressure = SamplerFunc(func() Pressure { return tc.pressure })
			})
			assert.Equal(t, tc.want, s.NextInterval())
		})
	}
}

func TestNextIntervalBeforeCaptureStarts(t *testing.T) {
	backend := capture.NewSimulatedBackend()
	backend.SetAvailable(false, "not trusted")
	m := capture.NewManager(capture.Options{
		Backend:  backend,
		Producer: queue.NewHandoff(16, 0),
		Logger:   logging.Discard(),
	})
	require.ErrorIs(t, m.Start(), capture.ErrPermissionDenied)

	s := newTestSupervisor(nil, &fakeSequence{}, func(o *Options) { o.Capture = m })
	assert.True(t, m.LastActivity().IsZero())
	assert.Equal(t, DefaultConfig().BaseInterval, s.NextInterval())
}

func TestCheckConsistency(t *testing.T) {
	seq := &fakeSequence{visible: true}
	s := newTestSupervisor(&fakeCapture{}, seq, nil)

	assert.False(t, s.CheckConsistency())
	assert.Equal(t, 1, seq.hides)
	assert.True(t, s.CheckConsistency())

	seq.state, seq.visible = engine.Active, true
	assert.True(t, s.CheckConsistency())
	assert.Equal(t, 1, seq.hides)
	assert.Equal(t, uint64(1), s.Statistics().ConsistencyFixes)
}

func TestWatchdogInactivity(t *testing.T) {
	c := &fakeCapture{monitoring: true, last: time.Now().Add(-2 * time.Minute)}
	seq := &fakeSequence{state: engine.Active, visible: true}
	s := newTestSupervisor(c, seq, nil)

	s.Watchdog(context.Background())
	_, restarts := c.counts()
	assert.Equal(t, 1, restarts)
	assert.Equal(t, 1, seq.hides)
	assert.Equal(t, 1, seq.resets)
	assert.Equal(t, uint64(1), s.Statistics().WatchdogResets)

	// restart refreshed the activity timestamp
	s.Watchdog(context.Background())
	_, restarts = c.counts()
	assert.Equal(t, 1, restarts)
}

func TestWatchdogInactivityRestartFails(t *testing.T) {
	c := &fakeCapture{
		monitoring: true,
		last:       time.Now().Add(-2 * time.Minute),
		restartErr: errors.New("tap create failed"),
	}
	s := newTestSupervisor(c, &fakeSequence{}, nil)

	s.Watchdog(context.Background())
	stats := s.Statistics()
	assert.Equal(t, uint64(1), stats.WatchdogResets)
	assert.Equal(t, uint64(1), stats.ForceResets)
	assert.Equal(t, uint64(1), stats.RecoveryFailures)
}

func TestWatchdogIgnoresStoppedCapture(t *testing.T) {
	c := &fakeCapture{last: time.Now().Add(-time.Hour)}
	s := newTestSupervisor(c, &fakeSequence{}, nil)

	s.Watchdog(context.Background())
	_, restarts := c.counts()
	assert.Zero(t, restarts)
}

func TestWatchdogMemoryTiers(t *testing.T) {
	var got []Tier
	c := &fakeCapture{monitoring: true, last: time.Now()}
	s := newTestSupervisor(c, &fakeSequence{}, func(o *Options) {
		o.Footprint = func() uint64 { return 80 << 20 }
		o.Cleanup = func(t Tier) { got = append(got, t) }
	})

	s.Watchdog(context.Background())
	assert.Equal(t, []Tier{TierAggressive}, got)

	stats := s.Statistics()
	assert.Equal(t, TierAggressive, stats.LastTier)
	assert.Equal(t, uint64(80<<20), stats.LastFootprint)
	assert.Equal(t, uint64(1), stats.Cleanups[TierAggressive])
}

func TestWatchdogRunsChecker(t *testing.T) {
	checker := NewChecker()
	c := &fakeCapture{monitoring: true, active: 1, last: time.Now()}
	checker.RegisterFunc("capture", true, CaptureCheck(c))

	s := newTestSupervisor(c, &fakeSequence{}, func(o *Options) { o.Checker = checker })
	s.Watchdog(context.Background())

	assert.Equal(t, StatusDegraded, checker.OverallStatus())
}

func TestMemoryTiersClassify(t *testing.T) {
	tiers := DefaultMemoryTiers()
	tests := []struct {
		bytes uint64
		want  Tier
	}{
		{10 << 20, TierNone},
		{50 << 20, TierProactive},
		{74 << 20, TierProactive},
		{75 << 20, TierAggressive},
		{100 << 20, TierEmergency},
		{1 << 30, TierEmergency},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tiers.Classify(tc.bytes), "%d bytes", tc.bytes)
	}
	assert.Equal(t, TierNone, MemoryTiers{}.Classify(1<<40))
	assert.Equal(t, "emergency", TierEmergency.String())
}

func TestForceResetRepeatable(t *testing.T) {
	c := &fakeCapture{monitoring: true}
	seq := &fakeSequence{state: engine.Active, visible: true}
	s := newTestSupervisor(c, seq, nil)

	require.NoError(t, s.ForceReset())
	require.NoError(t, s.ForceReset())

	_, restarts := c.counts()
	assert.Equal(t, 2, restarts)
	assert.Equal(t, 2, seq.resets)
	assert.Equal(t, engine.Idle, seq.State())
	assert.Equal(t, uint64(2), s.Statistics().ForceResets)
}

func TestCompleteForceResetCounts(t *testing.T) {
	c := &fakeCapture{monitoring: true}
	seq := &fakeSequence{}
	s := newTestSupervisor(c, seq, nil)

	require.NoError(t, s.CompleteForceReset())

	_, restarts := c.counts()
	assert.Equal(t, 1, restarts)
	assert.Zero(t, seq.resets)
	stats := s.Statistics()
	assert.Equal(t, uint64(1), stats.ForceResets)
	assert.Equal(t, uint64(1), stats.RecoveryAttempts)
}

func TestResetStatistics(t *testing.T) {
	c := &fakeCapture{results: []bool{false}}
	s := newTestSupervisor(c, &fakeSequence{}, nil)
	s.Probe()
	require.NotZero(t, s.Statistics().RecoveryAttempts)
	assert.Equal(t, s.Statistics().LastRecoveryLatency, s.Statistics().MeanRecoveryLatency())

	s.ResetStatistics()
	assert.Equal(t, Statistics{}, s.Statistics())
}

func TestRunLoops(t *testing.T) {
	c := &fakeCapture{monitoring: true, last: time.Now()}
	seq := &fakeSequence{visible: true}
	s := newTestSupervisor(c, seq, func(o *Options) {
		o.Config = Config{
			BaseInterval:        time.Millisecond,
			ConsistencyInterval: time.Millisecond,
			WatchdogInterval:    time.Hour,
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := s.Statistics()
		return st.Probes >= 3 && st.ConsistencyFixes == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestRunRecoversPanickingPass(t *testing.T) {
	crash := logging.NewCrashHandler(logging.CrashHandlerConfig{Logger: logging.Discard()})
	seq := &panickySequence{}
	s := newTestSupervisor(&fakeCapture{monitoring: true, last: time.Now()}, nil, func(o *Options) {
		o.Sequence = seq
		o.Crash = crash
		o.Config = Config{
			BaseInterval:        time.Hour,
			CriticalInterval:    time.Hour,
			ActiveInterval:      time.Hour,
			LowPowerInterval:    time.Hour,
			ConsistencyInterval: time.Millisecond,
			WatchdogInterval:    time.Hour,
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return crash.Count() >= 2 }, time.Second, time.Millisecond)
}

type panickySequence struct{ fakeSequence }

func (p *panickySequence) SurfaceVisible() bool { panic("surface gone") }

func TestCheckerAggregation(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("ok", true, CustomCheck(func() error { return nil }))
	c.RegisterFunc("optional", false, CustomCheck(func() error { return errors.New("down") }))

	assert.Equal(t, StatusUnknown, c.OverallStatus())

	results := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, c.OverallStatus())
	assert.Len(t, results, 2)
	assert.Equal(t, "down", results["optional"].Error)
	assert.Equal(t, []string{"optional"}, c.Failing())

	c.RegisterFunc("critical", true, CustomCheck(func() error { return errors.New("gone") }))
	c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
}

func TestCheckerTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("boom", false, func(context.Context) CheckResult { panic("bad") })

	results := c.Check(context.Background())
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, StatusUnhealthy, results["boom"].Status)
	assert.Equal(t, "bad", results["boom"].Error)

	r, ok := c.Result("slow")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, r.Status)
}

func TestCaptureCheck(t *testing.T) {
	c := &fakeCapture{}
	check := CaptureCheck(c)

	assert.Equal(t, StatusUnhealthy, check(context.Background()).Status)
	c.monitoring = true
	assert.Equal(t, StatusUnhealthy, check(context.Background()).Status)
	c.active = 1
	assert.Equal(t, StatusDegraded, check(context.Background()).Status)
	c.active = 2
	assert.Equal(t, StatusHealthy, check(context.Background()).Status)
}

func TestMemoryCheck(t *testing.T) {
	tiers := DefaultMemoryTiers()
	assert.Equal(t, StatusHealthy, MemoryCheck(func() uint64 { return 60 << 20 }, tiers)(context.Background()).Status)
	assert.Equal(t, StatusDegraded, MemoryCheck(func() uint64 { return 200 << 20 }, tiers)(context.Background()).Status)
	assert.NotZero(t, HeapFootprint())
}
