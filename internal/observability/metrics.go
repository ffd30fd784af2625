// Package observability carries the watch daemon's operational surface: a
// small fixed metric set, a Prometheus text exporter, and an on-demand
// health monitor.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// The detection pipeline counts discrete events (scans, tokens, cache
// entries), so counters and gauges ride on atomic.Int64. Only scan latency
// needs a distribution.

// ---------------------------------------------------------------------------
// Counter
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing event count.
type Counter struct {
	name string
	help string
	n    atomic.Int64
}

// Inc records one event.
func (c *Counter) Inc() {
	c.n.Add(1)
}

// Add records delta events. Negative deltas are dropped; a counter never
// goes down.
func (c *Counter) Add(delta int64) {
	if delta > 0 {
		c.n.Add(delta)
	}
}

// Value returns the running total.
func (c *Counter) Value() int64 {
	return c.n.Load()
}

// ---------------------------------------------------------------------------
// Gauge
// ---------------------------------------------------------------------------

// Gauge is a point-in-time level. The watch daemon mostly mirrors counters
// owned by other components (cache stats, watcher stats) into gauges, so Set
// is the primary operation.
type Gauge struct {
	name string
	help string
	v    atomic.Int64
}

// Set replaces the gauge value.
func (g *Gauge) Set(v int64) {
	g.v.Store(v)
}

// Inc raises the gauge by one.
func (g *Gauge) Inc() {
	g.v.Add(1)
}

// Dec lowers the gauge by one.
func (g *Gauge) Dec() {
	g.v.Add(-1)
}

// Value returns the current level.
func (g *Gauge) Value() int64 {
	return g.v.Load()
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// Histogram tracks a latency distribution in cumulative buckets. Bounds are
// inclusive upper limits in milliseconds; an observation lands in every
// bucket whose bound it does not exceed, matching the Prometheus histogram
// contract.
type Histogram struct {
	name string
	help string

	mu     sync.Mutex
	bounds []float64 // sorted ascending
	counts []int64   // counts[i] = observations <= bounds[i]
	sum    float64
	total  int64
}

// Observe records one measurement.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.total++
	// Bounds are ascending, so once v fits a bucket it fits all later ones.
	for i := len(h.bounds) - 1; i >= 0 && v <= h.bounds[i]; i-- {
		h.counts[i]++
	}
}

// Count returns how many values have been observed.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Sum returns the sum of all observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Quantile estimates the q-th percentile (0..1) by linear interpolation
// inside the bucket where the target rank lands. Observations past the last
// bound clamp to it, so a runaway p99 reads as the top bucket rather than
// inventing a value.
func (h *Histogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.total == 0 || q < 0 || q > 1 {
		return 0
	}
	rank := q * float64(h.total)

	prevBound, prevCum := 0.0, 0.0
	for i, bound := range h.bounds {
		cum := float64(h.counts[i])
		if cum < rank {
			prevBound, prevCum = bound, cum
			continue
		}
		width := cum - prevCum
		if width == 0 {
			return bound
		}
		return prevBound + (rank-prevCum)/width*(bound-prevBound)
	}

	if n := len(h.bounds); n > 0 {
		return h.bounds[n-1]
	}
	return 0
}

// histogramSnapshot is a consistent copy for the exporter.
type histogramSnapshot struct {
	bounds []float64
	counts []int64
	sum    float64
	total  int64
}

func (h *Histogram) snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		bounds: append([]float64(nil), h.bounds...),
		counts: append([]int64(nil), h.counts...),
		sum:    h.sum,
		total:  h.total,
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds the process's metrics in registration order, which is also
// the order the exporter renders them in. The metric set is fixed at
// construction, so a duplicate name is a programming error and panics.
type Registry struct {
	mu         sync.Mutex
	names      map[string]bool
	counters   []*Counter
	gauges     []*Gauge
	histograms []*Histogram
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// reserve claims a metric name. Caller holds r.mu.
func (r *Registry) reserve(name string) {
	if r.names[name] {
		panic(fmt.Sprintf("observability: duplicate metric %q", name))
	}
	r.names[name] = true
}

// NewCounter registers a counter.
func (r *Registry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserve(name)

	c := &Counter{name: name, help: help}
	r.counters = append(r.counters, c)
	return c
}

// NewGauge registers a gauge.
func (r *Registry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserve(name)

	g := &Gauge{name: name, help: help}
	r.gauges = append(r.gauges, g)
	return g
}

// NewHistogram registers a histogram with the given bucket bounds.
func (r *Registry) NewHistogram(name, help string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserve(name)

	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)

	h := &Histogram{
		name:   name,
		help:   help,
		bounds: sorted,
		counts: make([]int64, len(sorted)),
	}
	r.histograms = append(r.histograms, h)
	return h
}

// ---------------------------------------------------------------------------
// DetectionMetrics
// ---------------------------------------------------------------------------

// ScanDurationBuckets covers everything from a cache hit to a full history
// walk against the 90 second scan budget, in milliseconds.
var ScanDurationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 90000}

// DetectionMetrics bundles the metrics the detection pipeline reports.
type DetectionMetrics struct {
	Registry *Registry

	ScansTotal            *Counter
	TokensDetectedTotal   *Counter
	StrategyFailuresTotal *Counter
	IncompleteScansTotal  *Counter
	MintEventsTotal       *Counter
	HistoryRowsTotal      *Counter

	CacheHits      *Gauge
	CacheMisses    *Gauge
	CacheEvictions *Gauge
	CacheSize      *Gauge

	ScanDurationMs *Histogram
}

// NewDetectionMetrics creates a registry pre-populated with the standard
// MintTrace metric set.
func NewDetectionMetrics() *DetectionMetrics {
	r := NewRegistry()

	return &DetectionMetrics{
		Registry: r,

		ScansTotal: r.NewCounter("minttrace_scans_total",
			"Detection scans executed"),
		TokensDetectedTotal: r.NewCounter("minttrace_tokens_detected_total",
			"Tokens attributed across all scans"),
		StrategyFailuresTotal: r.NewCounter("minttrace_strategy_failures_total",
			"Strategy errors and panics recovered"),
		IncompleteScansTotal: r.NewCounter("minttrace_incomplete_scans_total",
			"Scans that finished with a partial result"),
		MintEventsTotal: r.NewCounter("minttrace_mint_events_total",
			"Mint creation events observed by the watcher"),
		HistoryRowsTotal: r.NewCounter("minttrace_history_rows_total",
			"Detection rows queued for persistence"),

		CacheHits: r.NewGauge("minttrace_cache_hits",
			"Result cache hits since start"),
		CacheMisses: r.NewGauge("minttrace_cache_misses",
			"Result cache misses since start"),
		CacheEvictions: r.NewGauge("minttrace_cache_evictions",
			"Result cache LRU evictions since start"),
		CacheSize: r.NewGauge("minttrace_cache_size",
			"Current result cache entry count"),

		ScanDurationMs: r.NewHistogram("minttrace_scan_duration_ms",
			"Detection scan duration in milliseconds", ScanDurationBuckets),
	}
}
