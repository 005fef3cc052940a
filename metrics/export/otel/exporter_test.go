package otel

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/MrEthical07/otpgate"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot otpgate.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() otpgate.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := otpgate.MetricsSnapshot{
		Counters:   make(map[otpgate.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[otpgate.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("otpgate-test")

	src := &fakeSource{
		snapshot: otpgate.MetricsSnapshot{
			Counters: map[otpgate.MetricID]uint64{
				otpgate.MetricOTPIssued: 3,
			},
			Histograms: map[otpgate.MetricID][]uint64{
				otpgate.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	values := collectedValues(rm)
	checks := map[string]int64{
		"otpgate_otp_issued_total":                            3,
		"otpgate_audit_dropped_total":                         1,
		`otpgate_validate_latency_seconds_bucket{le="0.005"}`: 1,
		`otpgate_validate_latency_seconds_bucket{le="0.1"}`:   5,
		`otpgate_validate_latency_seconds_bucket{le="+Inf"}`:  8,
		"otpgate_validate_latency_seconds_count":              8,
		"otpgate_otp_verify_success_total":                    0,
	}
	for name, want := range checks {
		got, ok := values[name]
		if !ok {
			t.Fatalf("metric %s not collected", name)
		}
		if got != want {
			t.Fatalf("%s = %d, want %d", name, got, want)
		}
	}
	if _, ok := values["otpgate_verify_latency_seconds_count"]; ok {
		t.Fatal("histogram absent from snapshot should not be observed")
	}
}

// collectedValues flattens int64 points to name or name{le="..."}.
func collectedValues(rm metricdata.ResourceMetrics) map[string]int64 {
	out := map[string]int64{}
	add := func(name string, points []metricdata.DataPoint[int64]) {
		for _, p := range points {
			key := name
			if le, ok := p.Attributes.Value("le"); ok {
				key = fmt.Sprintf("%s{le=%q}", name, le.AsString())
			}
			out[key] = p.Value
		}
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				add(m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				add(m.Name, data.DataPoints)
			}
		}
	}
	return out
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("otpgate-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("otpgate-test")

	src := &fakeSource{
		snapshot: otpgate.MetricsSnapshot{
			Counters: map[otpgate.MetricID]uint64{
				otpgate.MetricOTPIssued: 1,
			},
			Histograms: map[otpgate.MetricID][]uint64{
				otpgate.MetricValidateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[otpgate.MetricOTPIssued] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
