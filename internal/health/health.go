// Package health watches the capture pipeline and brings it back when it
// stops delivering.
//
// Two layers live here:
//   - Checker: named component checks aggregated into one Status
//   - Supervisor: the timer-driven probes that act on what they observe
package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Status is the health of one component or of the whole pipeline.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult is the outcome of one check run.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check inspects one component.
type Check func(ctx context.Context) CheckResult

// DefaultCheckTimeout bounds a check registered without a timeout.
const DefaultCheckTimeout = time.Second

// Component is a named check. A critical component that is unhealthy makes
// the whole pipeline unhealthy; any other failure only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

type entry struct {
	comp *Component
	last CheckResult
}

// Checker runs component checks and aggregates their last results.
type Checker struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{entries: make(map[string]*entry)}
}

// Register adds or replaces a component. Its status is unknown until the
// next Check.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout <= 0 {
		comp.Timeout = DefaultCheckTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[comp.Name] = &entry{comp: comp, last: CheckResult{Status: StatusUnknown}}
}

// RegisterFunc registers check under name.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// Check runs every component concurrently and records the results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	comps := make([]*Component, 0, len(c.entries))
	for _, e := range c.entries {
		comps = append(comps, e.comp)
	}
	c.mu.RUnlock()

	type named struct {
		name string
		res  CheckResult
	}
	out := make(chan named, len(comps))
	for _, comp := range comps {
		go func() { out <- named{comp.Name, runCheck(ctx, comp)} }()
	}

	results := make(map[string]CheckResult, len(comps))
	for range comps {
		n := <-out
		results[n.name] = n.res
	}

	c.mu.Lock()
	for name, res := range results {
		if e, ok := c.entries[name]; ok {
			e.last = res
		}
	}
	c.mu.Unlock()
	return results
}

// runCheck bounds comp.Check by its timeout and turns a panic into an
// unhealthy result.
func runCheck(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var res CheckResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	res.LastChecked = start
	res.Duration = time.Since(start)
	return res
}

// Result returns the last result of a component.
func (c *Checker) Result(name string) (CheckResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return CheckResult{}, false
	}
	return e.last, true
}

// OverallStatus folds the last results: unhealthy if a critical component
// is unhealthy, unknown if a critical component was never checked, degraded
// if anything else is off.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusHealthy
	for _, e := range c.entries {
		switch {
		case e.last.Status == StatusUnhealthy && e.comp.Critical:
			return StatusUnhealthy
		case e.last.Status == StatusUnknown && e.comp.Critical:
			status = StatusUnknown
		case e.last.Status == StatusUnhealthy, e.last.Status == StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return status
}

// Failing returns the sorted names of components whose last result was not
// healthy.
func (c *Checker) Failing() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var names []string
	for name, e := range c.entries {
		if e.last.Status != StatusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// CaptureCheck reports how many taps are live.
func CaptureCheck(c Capture) Check {
	return func(ctx context.Context) CheckResult {
		if !c.Monitoring() {
			return CheckResult{Status: StatusUnhealthy, Message: "capture not running"}
		}
		active := c.ActiveTaps()
		details := map[string]any{
			"active_taps":   active,
			"last_activity": c.LastActivity(),
		}
		switch active {
		case 0:
			return CheckResult{Status: StatusUnhealthy, Message: "no tap enabled", Details: details}
		case 1:
			return CheckResult{Status: StatusDegraded, Message: "running on one tap", Details: details}
		}
		return CheckResult{Status: StatusHealthy, Message: "both taps enabled", Details: details}
	}
}

// MemoryCheck compares the sampled footprint against the tier thresholds.
func MemoryCheck(sample func() uint64, tiers MemoryTiers) Check {
	return func(ctx context.Context) CheckResult {
		used := sample()
		tier := tiers.Classify(used)
		result := CheckResult{
			Status:  StatusHealthy,
			Message: tier.String(),
			Details: map[string]any{"bytes": used, "tier": tier.String()},
		}
		switch tier {
		case TierAggressive, TierEmergency:
			result.Status = StatusDegraded
		}
		return result
	}
}

// CustomCheck creates a check from a simple function.
func CustomCheck(fn func() error) Check {
	return func(ctx context.Context) CheckResult {
		if err := fn(); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "check failed", Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: "check passed"}
	}
}

// HeapFootprint returns the bytes the Go runtime holds from the OS minus
// what it has already released.
func HeapFootprint() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys - ms.HeapReleased
}
