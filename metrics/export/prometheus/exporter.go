package prometheus

import (
	"net/http"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() otpgate.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter is a prometheus.Collector over an engine's metrics
// snapshot. Each scrape reads one snapshot.
type PrometheusExporter struct {
	source     metricsSource
	counters   []*prometheus.Desc
	histograms []*prometheus.Desc
	dropped    *prometheus.Desc
}

// NewPrometheusExporter creates a collector reading from engine.
func NewPrometheusExporter(engine *otpgate.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

// NewPrometheusExporterFromSource creates a collector over any snapshot
// source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{
		source:     source,
		counters:   make([]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histograms: make([]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		dropped:    prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for i, def := range internaldefs.CounterDefs {
		p.counters[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		p.histograms[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return p
}

func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range p.counters {
		ch <- d
	}
	for _, d := range p.histograms {
		ch <- d
	}
	ch <- p.dropped
}

func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p == nil || p.source == nil {
		return
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for i, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(p.counters[i], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for j, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[j]
		}
		// Sum is not tracked by the engine's bucket counters.
		ch <- prometheus.MustNewConstHistogram(p.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(p.dropped, prometheus.CounterValue, float64(dropped))
}

// Register adds the exporter to reg.
func (p *PrometheusExporter) Register(reg prometheus.Registerer) error {
	return reg.Register(p)
}

// Handler serves only this exporter's metrics from a private registry.
func (p *PrometheusExporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
