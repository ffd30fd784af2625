package observability

import (
	"net/http"
	"strconv"
	"strings"
)

// PrometheusExporter renders a Registry in the Prometheus text exposition
// format (version 0.0.4). MintTrace metrics carry no labels, so a series is
// just a name and a value; histograms expand into the usual _bucket, _sum
// and _count series with an le label per bound.
type PrometheusExporter struct {
	registry *Registry
}

// NewPrometheusExporter creates an exporter over the given registry.
func NewPrometheusExporter(registry *Registry) *PrometheusExporter {
	return &PrometheusExporter{registry: registry}
}

// ServeHTTP implements http.Handler for the /metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(e.Format()))
}

// Format renders every registered metric in registration order: counters,
// then gauges, then histograms.
func (e *PrometheusExporter) Format() string {
	e.registry.mu.Lock()
	counters := append([]*Counter(nil), e.registry.counters...)
	gauges := append([]*Gauge(nil), e.registry.gauges...)
	histograms := append([]*Histogram(nil), e.registry.histograms...)
	e.registry.mu.Unlock()

	var b strings.Builder

	for _, c := range counters {
		writeHeader(&b, c.name, c.help, "counter")
		b.WriteString(c.name)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(c.Value(), 10))
		b.WriteString("\n\n")
	}

	for _, g := range gauges {
		writeHeader(&b, g.name, g.help, "gauge")
		b.WriteString(g.name)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(g.Value(), 10))
		b.WriteString("\n\n")
	}

	for _, h := range histograms {
		s := h.snapshot()
		writeHeader(&b, h.name, h.help, "histogram")

		for i, bound := range s.bounds {
			b.WriteString(h.name)
			b.WriteString(`_bucket{le="`)
			b.WriteString(formatValue(bound))
			b.WriteString(`"} `)
			b.WriteString(strconv.FormatInt(s.counts[i], 10))
			b.WriteByte('\n')
		}
		b.WriteString(h.name)
		b.WriteString(`_bucket{le="+Inf"} `)
		b.WriteString(strconv.FormatInt(s.total, 10))
		b.WriteByte('\n')

		b.WriteString(h.name)
		b.WriteString("_sum ")
		b.WriteString(formatValue(s.sum))
		b.WriteByte('\n')

		b.WriteString(h.name)
		b.WriteString("_count ")
		b.WriteString(strconv.FormatInt(s.total, 10))
		b.WriteString("\n\n")
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, metricType string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(help)
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(metricType)
	b.WriteByte('\n')
}

// formatValue renders a float compactly; whole numbers drop the decimals.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
