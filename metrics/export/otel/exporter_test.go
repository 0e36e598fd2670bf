package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authcore.MetricsSnapshot{
		Counters:   make(map[authcore.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authcore.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

type pingingSource struct {
	*fakeSource
	up bool
}

func (p pingingSource) Health(context.Context) authcore.HealthStatus {
	return authcore.HealthStatus{StoreAvailable: p.up}
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return rm
}

func find(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func sumValue(rm metricdata.ResourceMetrics, name string) int64 {
	m, ok := find(rm, name)
	if !ok {
		return -1
	}
	if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
		return sum.DataPoints[0].Value
	}
	return -1
}

func gaugeByLe(rm metricdata.ResourceMetrics, name string) map[string]int64 {
	out := map[string]int64{}
	m, ok := find(rm, name)
	if !ok {
		return out
	}
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	if !ok {
		return out
	}
	for _, dp := range gauge.DataPoints {
		le, _ := dp.Attributes.Value(attribute.Key("le"))
		out[le.AsString()] = dp.Value
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader(t)

	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 3,
				authcore.MetricOTPExpired:   2,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewFromSource(provider.Meter("authcore-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	rm := collect(t, reader)
	if got := sumValue(rm, "authcore_login_success_total"); got != 3 {
		t.Fatalf("expected authcore_login_success_total=3, got %d", got)
	}
	if got := sumValue(rm, "authcore_otp_expired_total"); got != 2 {
		t.Fatalf("expected authcore_otp_expired_total=2, got %d", got)
	}
	if got := sumValue(rm, "authcore_audit_dropped_total"); got != 1 {
		t.Fatalf("expected authcore_audit_dropped_total=1, got %d", got)
	}
	if got := sumValue(rm, "authcore_validate_latency_seconds_count"); got != 8 {
		t.Fatalf("expected latency count 8, got %d", got)
	}

	buckets := gaugeByLe(rm, "authcore_validate_latency_seconds_bucket")
	if len(buckets) != 8 {
		t.Fatalf("expected 8 bucket series, got %v", buckets)
	}
	if buckets["0.005"] != 1 || buckets["0.1"] != 5 || buckets["+Inf"] != 8 {
		t.Fatalf("unexpected cumulative buckets %v", buckets)
	}
	if _, ok := find(rm, "authcore_store_up"); ok {
		t.Fatal("expected no store gauge without a health source")
	}
}

func TestExporterReportsStoreHealth(t *testing.T) {
	reader, provider := newReader(t)
	src := pingingSource{fakeSource: &fakeSource{}, up: true}

	exp, err := NewFromSource(provider.Meter("authcore-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer exp.Close()

	m, ok := find(collect(t, reader), "authcore_store_up")
	if !ok {
		t.Fatal("expected authcore_store_up")
	}
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 1 {
		t.Fatalf("expected store up 1, got %+v", m.Data)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader(t)
	meter := provider.Meter("authcore-test")

	if _, err := NewFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := New(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
	if _, err := NewFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	var nilExporter *Exporter
	if err := nilExporter.Close(); err != nil {
		t.Fatalf("expected nil Close on nil exporter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader(t)

	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewFromSource(provider.Meter("authcore-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authcore.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
