package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_CountsEvents(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("scans_total", "scans executed")

	assert.Equal(t, int64(0), c.Value())

	c.Inc()
	c.Inc()
	c.Add(3)
	assert.Equal(t, int64(5), c.Value())

	// A counter never goes down.
	c.Add(-2)
	assert.Equal(t, int64(5), c.Value())
}

func TestCounter_ConcurrentIncrements(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("mint_events_total", "events")

	var wg sync.WaitGroup
	const n = 500
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), c.Value())
}

func TestGauge_TracksLevels(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("cache_size", "entries")

	g.Set(7)
	assert.Equal(t, int64(7), g.Value())

	g.Inc()
	g.Dec()
	g.Dec()
	assert.Equal(t, int64(6), g.Value())

	g.Set(0)
	assert.Equal(t, int64(0), g.Value())
}

func TestHistogram_CumulativeBuckets(t *testing.T) {
	r := NewRegistry()
	// Bounds arrive unsorted and must come out ascending.
	h := r.NewHistogram("scan_ms", "scan duration", []float64{100, 10, 50})

	h.Observe(5)
	h.Observe(60)
	h.Observe(250)

	assert.Equal(t, []float64{10, 50, 100}, h.bounds)
	// 5 lands in every bucket, 60 only in <=100, 250 in none.
	assert.Equal(t, []int64{1, 1, 2}, h.counts)
	assert.Equal(t, int64(3), h.Count())
	assert.InDelta(t, 315.0, h.Sum(), 0.001)
}

func TestHistogram_QuantileInterpolation(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("scan_ms", "scan duration", []float64{100, 200})

	// 80 fast scans, 20 slow ones.
	for i := 0; i < 80; i++ {
		h.Observe(50)
	}
	for i := 0; i < 20; i++ {
		h.Observe(150)
	}

	// rank 50 of 100 falls in the (0,100] bucket holding 80 observations.
	assert.InDelta(t, 62.5, h.Quantile(0.5), 0.001)
	// rank 95 falls in the (100,200] bucket: 100 + (95-80)/20 * 100.
	assert.InDelta(t, 175.0, h.Quantile(0.95), 0.001)

	assert.Equal(t, 0.0, h.Quantile(-0.1))
	assert.Equal(t, 0.0, h.Quantile(1.5))

	empty := r.NewHistogram("empty_ms", "no data", []float64{10})
	assert.Equal(t, 0.0, empty.Quantile(0.5))
}

func TestHistogram_QuantileClampsToLastBound(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("scan_ms", "scan duration", []float64{100})

	h.Observe(5000) // past every bound

	assert.Equal(t, 100.0, h.Quantile(0.99))
}

func TestRegistry_DuplicateNamePanics(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("scans_total", "scans")

	assert.Panics(t, func() { r.NewCounter("scans_total", "again") })
	// The name space is shared across metric kinds.
	assert.Panics(t, func() { r.NewGauge("scans_total", "as a gauge") })
}

func TestNewDetectionMetrics_FullSet(t *testing.T) {
	m := NewDetectionMetrics()

	names := []string{
		"minttrace_scans_total",
		"minttrace_tokens_detected_total",
		"minttrace_strategy_failures_total",
		"minttrace_incomplete_scans_total",
		"minttrace_mint_events_total",
		"minttrace_history_rows_total",
		"minttrace_cache_hits",
		"minttrace_cache_misses",
		"minttrace_cache_evictions",
		"minttrace_cache_size",
		"minttrace_scan_duration_ms",
	}

	output := NewPrometheusExporter(m.Registry).Format()
	for _, name := range names {
		assert.Contains(t, output, "# HELP "+name+" ", "missing %s", name)
	}
	assert.Equal(t, len(names), strings.Count(output, "# TYPE "))

	// The struct fields point at the registered metrics.
	m.ScansTotal.Inc()
	assert.Contains(t, NewPrometheusExporter(m.Registry).Format(), "minttrace_scans_total 1")
}

// -----------------------------------------------------------------------
// PrometheusExporter
// -----------------------------------------------------------------------

func TestPrometheusExporter_RendersDetectionScan(t *testing.T) {
	m := NewDetectionMetrics()

	m.ScansTotal.Add(42)
	m.IncompleteScansTotal.Inc()
	m.CacheSize.Set(7)
	m.ScanDurationMs.Observe(40)

	output := NewPrometheusExporter(m.Registry).Format()

	assert.Contains(t, output, "# TYPE minttrace_scans_total counter")
	assert.Contains(t, output, "minttrace_scans_total 42")
	assert.Contains(t, output, "minttrace_incomplete_scans_total 1")

	assert.Contains(t, output, "# TYPE minttrace_cache_size gauge")
	assert.Contains(t, output, "minttrace_cache_size 7")

	assert.Contains(t, output, "# TYPE minttrace_scan_duration_ms histogram")
	assert.Contains(t, output, `minttrace_scan_duration_ms_bucket{le="25"} 0`)
	assert.Contains(t, output, `minttrace_scan_duration_ms_bucket{le="50"} 1`)
	assert.Contains(t, output, `minttrace_scan_duration_ms_bucket{le="+Inf"} 1`)
	assert.Contains(t, output, "minttrace_scan_duration_ms_sum 40")
	assert.Contains(t, output, "minttrace_scan_duration_ms_count 1")
}

func TestPrometheusExporter_EmptyRegistry(t *testing.T) {
	exp := NewPrometheusExporter(NewRegistry())
	assert.Equal(t, "", exp.Format())
}

func TestPrometheusExporter_ServeHTTP(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("scans_total", "scans executed").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	NewPrometheusExporter(r).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "scans_total 1")
}

// -----------------------------------------------------------------------
// HealthMonitor
// -----------------------------------------------------------------------

func TestHealthMonitor_Check(t *testing.T) {
	mon := NewHealthMonitor()
	mon.Register("rpc", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy, Message: "connected"}
	})
	mon.Register("clickhouse", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})

	health := mon.Check(context.Background())

	assert.Equal(t, StatusHealthy, health.Status)
	require.Len(t, health.Components, 2)

	rpc := health.Components["rpc"]
	assert.Equal(t, "rpc", rpc.Name)
	assert.Equal(t, "connected", rpc.Message)
	assert.False(t, rpc.LastChecked.IsZero())
	assert.True(t, health.Uptime > 0)
}

func TestHealthMonitor_WorstStatusWins(t *testing.T) {
	cases := []struct {
		name     string
		statuses []ComponentStatus
		want     ComponentStatus
	}{
		{"all healthy", []ComponentStatus{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []ComponentStatus{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy beats degraded", []ComponentStatus{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mon := NewHealthMonitor()
			for i, s := range tc.statuses {
				status := s
				mon.Register(string(rune('a'+i)), func(ctx context.Context) ComponentHealth {
					return ComponentHealth{Status: status}
				})
			}

			assert.Equal(t, tc.want, mon.Check(context.Background()).Status)
		})
	}
}

func TestHealthMonitor_ServeHTTP(t *testing.T) {
	mon := NewHealthMonitor()
	mon.Register("rpc", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy, Message: "ok"}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mon.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	// An unhealthy component flips the status code.
	mon.Register("clickhouse", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUnhealthy, Message: "refused"}
	})

	rec = httptest.NewRecorder()
	mon.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}
