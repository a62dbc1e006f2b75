// Package metrics provides lightweight metrics collection for dbcp.
// Metrics are rendered in the Prometheus text exposition format so the pool
// can be scraped without pulling a client library into every caller.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencyBuckets are histogram buckets in seconds suited to
// acquire and statement latencies (1ms .. 10s).
var DefaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Counter is a monotonically increasing counter.
type Counter struct {
	value uint64
	name  string
	help  string
}

// NewCounter creates a counter registered with the default registry.
func NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	defaultRegistry.Register(c)
	return c
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) metricName() string { return c.name }

func (c *Counter) write(sb *strings.Builder) {
	writeHeader(sb, c.name, c.help, "counter")
	fmt.Fprintf(sb, "%s %d\n", c.name, c.Value())
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value int64
	name  string
	help  string
}

// NewGauge creates a gauge registered with the default registry.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{name: name, help: help}
	defaultRegistry.Register(g)
	return g
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v int64) {
	atomic.AddInt64(&g.value, v)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

func (g *Gauge) metricName() string { return g.name }

func (g *Gauge) write(sb *strings.Builder) {
	writeHeader(sb, g.name, g.help, "gauge")
	fmt.Fprintf(sb, "%s %d\n", g.name, g.Value())
}

// Histogram tracks the distribution of observed values.
// Bucket counts are cumulative, as the exposition format expects.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// NewHistogram creates a histogram registered with the default registry.
// Buckets must be sorted in increasing order.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	defaultRegistry.Register(h)
	return h
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) metricName() string { return h.name }

func (h *Histogram) write(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	writeHeader(sb, h.name, h.help, "histogram")
	for i, b := range h.buckets {
		fmt.Fprintf(sb, "%s_bucket{le=\"%g\"} %d\n", h.name, b, h.counts[i])
	}
	fmt.Fprintf(sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(sb, "%s_sum %g\n", h.name, h.sum)
	fmt.Fprintf(sb, "%s_count %d\n", h.name, h.count)
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	help = strings.ReplaceAll(help, "\\", `\\`)
	help = strings.ReplaceAll(help, "\n", `\n`)
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

// Metric is implemented by every metric type in this package.
type Metric interface {
	metricName() string
	write(sb *strings.Builder)
}

// Registry holds registered metrics keyed by name.
// Registering a second metric under an existing name replaces the first.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the New* constructors.
func Default() *Registry {
	return defaultRegistry
}

// Register adds m to the registry.
func (r *Registry) Register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[m.metricName()] = m
}

// Expose returns all metrics in Prometheus exposition format, sorted by name.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		r.metrics[name].write(&sb)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Handler returns an http.Handler that serves this registry.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Expose()))
	})
}

// Handler returns an http.Handler that serves the default registry.
func Handler() http.Handler {
	return defaultRegistry.Handler()
}

// Process-level metrics
var (
	StartTime = NewGauge("dbcp_start_time_seconds", "Unix timestamp when the process started")

	HTTPRequestsTotal    = NewCounter("dbcp_http_requests_total", "Total HTTP requests handled")
	HTTPErrorsTotal      = NewCounter("dbcp_http_errors_total", "Total HTTP requests answered with a 5xx status")
	RateLimitRejections  = NewCounter("dbcp_ratelimit_rejections_total", "Total requests rejected by rate limiting")
	ConnectionRejections = NewCounter("dbcp_http_connection_rejections_total", "Total HTTP connections closed at the connection limit")
	StatementLatency     = NewHistogram("dbcp_statement_duration_seconds", "Time spent executing statements on a borrowed session", DefaultLatencyBuckets)
)

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
