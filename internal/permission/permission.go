// Package permission checks whether the process may capture global input
// and asks the user for it, at most once per interval.
package permission

import (
	"sync/atomic"
	"time"

	"leaderkey/internal/logging"
	"leaderkey/internal/metrics"
)

// DefaultInterval is the minimum time between two prompts.
const DefaultInterval = 5 * time.Second

// Platform is the OS permission surface.
type Platform interface {
	// Trusted reports whether input capture is allowed, without prompting.
	Trusted() bool
	// Prompt shows the system dialog asking for input capture access.
	Prompt()
}

// Options configures a Prompter.
type Options struct {
	Platform Platform
	Interval time.Duration
	Logger   *logging.Logger
	Metrics  *metrics.Pipeline
}

// Prompter is the rate-limited permission prompt.
type Prompter struct {
	platform Platform
	limiter  *RateLimiter
	log      *logging.Logger
	metrics  *metrics.Pipeline

	prompts    atomic.Uint64
	suppressed atomic.Uint64
}

// New creates a Prompter. A nil Platform selects the system one.
func New(opts Options) *Prompter {
	if opts.Platform == nil {
		opts.Platform = System()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	return &Prompter{
		platform: opts.Platform,
		limiter:  Every(opts.Interval),
		log:      opts.Logger.WithComponent("permission"),
		metrics:  opts.Metrics,
	}
}

// Trusted reports the current permission state.
func (p *Prompter) Trusted() bool {
	return p.platform.Trusted()
}

// Request prompts when the process is not trusted and no prompt was shown
// within the interval. It reports whether a prompt was shown.
func (p *Prompter) Request() bool {
	if p.platform.Trusted() {
		return false
	}
	if !p.limiter.Allow() {
		p.suppressed.Add(1)
		return false
	}
	p.prompts.Add(1)
	p.metrics.PermissionPrompt.Inc()
	p.log.Info("requesting input monitoring permission")
	p.platform.Prompt()
	return true
}

// Stats returns how many prompts were shown and how many were suppressed
// by the rate limit.
func (p *Prompter) Stats() (prompts, suppressed uint64) {
	return p.prompts.Load(), p.suppressed.Load()
}
