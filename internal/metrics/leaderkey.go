package metrics

import (
	"sync"
	"time"
)

// Pipeline holds the metrics of the capture → queue → engine pipeline and
// the health supervisor.
type Pipeline struct {
	registry *Registry

	EventsCaptured   *Counter
	EventsConsumed   *Counter
	EventsDropped    *Counter
	EventsReposted   *Counter
	TapFailovers     *Counter
	TapReenables     *Counter
	CaptureRestarts  *Counter
	Activations      *Counter
	ActionsRun       *Counter
	ActionFailures   *Counter
	Shakes           *Counter
	ForceResets      *Counter
	ProbeFailures    *Counter
	ConfigReloads    *Counter
	RecoveredPanics  *Counter
	PermissionPrompt *Counter

	QueueDepth     *Gauge
	HeapBytes      *Gauge
	MemoryTier     *Gauge
	SequenceActive *Gauge
	UptimeSeconds  *Gauge

	DispatchLatency *Histogram
	ProbeLatency    *Histogram
	RestartDuration *Histogram

	start time.Time
}

// NewPipeline registers the pipeline metrics on registry.
func NewPipeline(registry *Registry) *Pipeline {
	if registry == nil {
		registry = Default()
	}

	return &Pipeline{
		registry: registry,
		start:    time.Now(),

		EventsCaptured: registry.RegisterCounter("events_captured_total",
			"Key events seen by the primary tap", nil),
		EventsConsumed: registry.RegisterCounter("events_consumed_total",
			"Key events withheld from the focused application", nil),
		EventsDropped: registry.RegisterCounter("events_dropped_total",
			"Key events rejected by a full handoff queue", nil),
		EventsReposted: registry.RegisterCounter("events_reposted_total",
			"Consumed events handed back to the system", nil),
		TapFailovers: registry.RegisterCounter("tap_failovers_total",
			"Switches of the primary tap", nil),
		TapReenables: registry.RegisterCounter("tap_reenables_total",
			"Disabled taps brought back", nil),
		CaptureRestarts: registry.RegisterCounter("capture_restarts_total",
			"Full capture restarts", nil),
		Activations: registry.RegisterCounter("activations_total",
			"Sequences started", nil),
		ActionsRun: registry.RegisterCounter("actions_total",
			"Actions dispatched", nil),
		ActionFailures: registry.RegisterCounter("action_failures_total",
			"Actions that returned an error", nil),
		Shakes: registry.RegisterCounter("shakes_total",
			"Unmatched keys in an active sequence", nil),
		ForceResets: registry.RegisterCounter("force_resets_total",
			"Emergency resets", nil),
		ProbeFailures: registry.RegisterCounter("probe_failures_total",
			"Health probes that found no working tap", nil),
		ConfigReloads: registry.RegisterCounter("config_reloads_total",
			"Configuration or tree reloads", nil),
		RecoveredPanics: registry.RegisterCounter("recovered_panics_total",
			"Panics recovered in long-running goroutines", nil),
		PermissionPrompt: registry.RegisterCounter("permission_prompts_total",
			"Accessibility permission prompts shown", nil),

		QueueDepth: registry.RegisterGauge("queue_depth",
			"Events waiting in the handoff queue", nil),
		HeapBytes: registry.RegisterGauge("heap_bytes",
			"Heap in use at the last memory check", nil),
		MemoryTier: registry.RegisterGauge("memory_tier",
			"Current memory pressure tier (0 normal .. 3 critical)", nil),
		SequenceActive: registry.RegisterGauge("sequence_active",
			"1 while a sequence is active", nil),
		UptimeSeconds: registry.RegisterGauge("uptime_seconds",
			"Seconds since start", nil),

		DispatchLatency: registry.RegisterHistogram("dispatch_latency_seconds",
			"Time from key capture to engine decision", nil, LatencyBuckets),
		ProbeLatency: registry.RegisterHistogram("probe_latency_seconds",
			"Duration of a fast health probe", nil, LatencyBuckets),
		RestartDuration: registry.RegisterHistogram("restart_duration_seconds",
			"Duration of capture restarts", nil, DurationBuckets),
	}
}

// Registry returns the backing registry.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// UpdateUptime refreshes the uptime gauge.
func (p *Pipeline) UpdateUptime() {
	p.UptimeSeconds.Set(int64(time.Since(p.start).Seconds()))
}

// SetSequenceActive records whether a sequence is active.
func (p *Pipeline) SetSequenceActive(active bool) {
	if active {
		p.SequenceActive.Set(1)
		return
	}
	p.SequenceActive.Set(0)
}

var (
	pipeline     *Pipeline
	pipelineOnce sync.Once
)

// Discard returns pipeline metrics on a private registry, for tests and
// components constructed without metrics.
func Discard() *Pipeline {
	return NewPipeline(NewRegistry("", ""))
}

// Global returns the pipeline metrics on the default registry.
func Global() *Pipeline {
	pipelineOnce.Do(func() {
		pipeline = NewPipeline(Default())
	})
	return pipeline
}
