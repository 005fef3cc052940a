package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() otpgate.MetricsSnapshot
	AuditDropped() uint64
}

// bucketAttrs carries one precomputed le attribute per histogram bucket.
var bucketAttrs = func() []metric.ObserveOption {
	out := make([]metric.ObserveOption, len(internaldefs.HistogramBucketLabels))
	for i, le := range internaldefs.HistogramBucketLabels {
		out[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return out
}()

type latencyGauges struct {
	id      otpgate.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine counters as observable counters. Each
// latency histogram becomes a cumulative <name>_bucket gauge keyed by an
// "le" attribute plus a <name>_count gauge. A collection cycle reads one
// snapshot.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     map[otpgate.MetricID]metric.Int64ObservableCounter
	latency      []latencyGauges
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from engine.
// Close unregisters them.
func NewOTelExporter(meter metric.Meter, engine *otpgate.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource is NewOTelExporter over any snapshot source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[otpgate.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	observables, err := e.instruments(meter)
	if err != nil {
		return nil, err
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) instruments(meter metric.Meter) ([]metric.Observable, error) {
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		observables = append(observables, c)
	}

	for _, def := range internaldefs.HistogramDefs {
		g := latencyGauges{id: def.ID}
		var err error
		g.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per le bound."))
		if err != nil {
			return nil, fmt.Errorf("create bucket gauge %s: %w", def.Name, err)
		}
		g.count, err = meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("create count gauge %s: %w", def.Name, err)
		}
		e.latency = append(e.latency, g)
		observables = append(observables, g.buckets, g.count)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	return append(observables, dropped), nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snap.Counters[id]))
	}
	for _, g := range e.latency {
		raw, ok := snap.Histograms[g.id]
		if !ok {
			continue
		}
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, n := range cum {
			o.ObserveInt64(g.buckets, int64(n), bucketAttrs[i])
		}
		o.ObserveInt64(g.count, int64(cum[len(cum)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. It is safe on a nil exporter.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
