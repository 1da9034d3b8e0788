// Package metrics provides Prometheus-compatible metrics for leaderkey.
//
// There is no scrape endpoint. When configured, the registry is written
// periodically to a node_exporter textfile; "leaderkey stats" prints that
// file.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels are constant labels attached to one metric.
type Labels map[string]string

// String renders labels as {a="1",b="2"} with sorted keys.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	return "{" + l.join() + "}"
}

func (l Labels) join() string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(l[k]))
	}
	return b.String()
}

// metric is what the registry renders.
type metric interface {
	kind() string
	help() string
	render(b *strings.Builder, name string)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	doc    string
	labels Labels
	value  atomic.Uint64
}

// NewCounter creates an unregistered counter.
func NewCounter(name, help string, labels Labels) *Counter {
	return &Counter{name: name, doc: help, labels: labels}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current value.
func (c *Counter) Value() uint64 { return c.value.Load() }

// Name returns the full metric name.
func (c *Counter) Name() string { return c.name }

func (c *Counter) kind() string { return "counter" }
func (c *Counter) help() string { return c.doc }

func (c *Counter) render(b *strings.Builder, name string) {
	fmt.Fprintf(b, "%s%s %d\n", name, c.labels.String(), c.Value())
}

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	doc    string
	labels Labels
	value  atomic.Int64
}

// NewGauge creates an unregistered gauge.
func NewGauge(name, help string, labels Labels) *Gauge {
	return &Gauge{name: name, doc: help, labels: labels}
}

// Set sets the gauge.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Add adds v, which may be negative.
func (g *Gauge) Add(v int64) { g.value.Add(v) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) kind() string { return "gauge" }
func (g *Gauge) help() string { return g.doc }

func (g *Gauge) render(b *strings.Builder, name string) {
	fmt.Fprintf(b, "%s%s %d\n", name, g.labels.String(), g.Value())
}

// DurationBuckets are upper bounds in seconds for restarts and reloads.
var DurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// LatencyBuckets are upper bounds in seconds for the key event path.
var LatencyBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1,
}

// Histogram counts observations into cumulative, upper-inclusive buckets.
type Histogram struct {
	name    string
	doc     string
	labels  Labels
	bounds  []float64
	mu      sync.Mutex
	buckets []uint64 // cumulative; last entry is +Inf
	sum     float64
	count   uint64
}

// NewHistogram creates an unregistered histogram. Bounds are sorted; nil
// means LatencyBuckets.
func NewHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	if bounds == nil {
		bounds = LatencyBuckets
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{
		name:    name,
		doc:     help,
		labels:  labels,
		bounds:  sorted,
		buckets: make([]uint64, len(sorted)+1),
	}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	for i := sort.SearchFloat64s(h.bounds, v); i < len(h.buckets); i++ {
		h.buckets[i]++
	}
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) kind() string { return "histogram" }
func (h *Histogram) help() string { return h.doc }

func (h *Histogram) render(b *strings.Builder, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prefix := "{"
	if len(h.labels) > 0 {
		prefix = "{" + h.labels.join() + ","
	}
	for i, bound := range h.bounds {
		fmt.Fprintf(b, "%s_bucket%sle=\"%g\"} %d\n", name, prefix, bound, h.buckets[i])
	}
	fmt.Fprintf(b, "%s_bucket%sle=\"+Inf\"} %d\n", name, prefix, h.buckets[len(h.bounds)])
	fmt.Fprintf(b, "%s_sum%s %g\n", name, h.labels.String(), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, h.labels.String(), h.count)
}

// Registry names and renders a set of metrics.
type Registry struct {
	prefix string

	mu      sync.RWMutex
	metrics map[string]metric
}

// NewRegistry creates a registry whose metric names are prefixed with
// namespace and subsystem, each followed by an underscore when set.
func NewRegistry(namespace, subsystem string) *Registry {
	var prefix string
	for _, p := range []string{namespace, subsystem} {
		if p != "" {
			prefix += p + "_"
		}
	}
	return &Registry{prefix: prefix, metrics: make(map[string]metric)}
}

// register returns the metric already registered under name when it has
// type T, otherwise stores the one built by create.
func register[T metric](r *Registry, name string, create func(full string) T) T {
	full := r.prefix + name
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[full].(T); ok {
		return m
	}
	m := create(full)
	r.metrics[full] = m
	return m
}

func lookup[T metric](r *Registry, name string) T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, _ := r.metrics[r.prefix+name].(T)
	return m
}

// RegisterCounter registers a counter or returns the existing one.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	return register(r, name, func(full string) *Counter { return NewCounter(full, help, labels) })
}

// RegisterGauge registers a gauge or returns the existing one.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	return register(r, name, func(full string) *Gauge { return NewGauge(full, help, labels) })
}

// RegisterHistogram registers a histogram or returns the existing one.
func (r *Registry) RegisterHistogram(name, help string, labels Labels, bounds []float64) *Histogram {
	return register(r, name, func(full string) *Histogram { return NewHistogram(full, help, labels, bounds) })
}

// GetCounter returns the counter registered under name, or nil.
func (r *Registry) GetCounter(name string) *Counter { return lookup[*Counter](r, name) }

// GetGauge returns the gauge registered under name, or nil.
func (r *Registry) GetGauge(name string) *Gauge { return lookup[*Gauge](r, name) }

// GetHistogram returns the histogram registered under name, or nil.
func (r *Registry) GetHistogram(name string) *Histogram { return lookup[*Histogram](r, name) }

// WritePrometheus writes every metric in the Prometheus text format, sorted
// by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		m := r.metrics[name]
		fmt.Fprintf(&b, "# HELP %s %s\n", name, m.help())
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, m.kind())
		m.render(&b, name)
	}
	r.mu.RUnlock()

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteTextfile atomically replaces path with the Prometheus rendering of
// the registry, for the node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".metrics-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := r.WritePrometheus(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var defaultRegistry = NewRegistry("leaderkey", "")

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}
