package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

type healthySource struct {
	fakeSource
	status authcore.HealthStatus
}

func (h healthySource) Health(context.Context) authcore.HealthStatus { return h.status }

func emptySnapshot() authcore.MetricsSnapshot {
	return authcore.MetricsSnapshot{
		Counters:   map[authcore.MetricID]uint64{},
		Histograms: map[authcore.MetricID][]uint64{},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewFromSource(healthySource{
		fakeSource: fakeSource{snapshot: emptySnapshot()},
		status:     authcore.HealthStatus{StoreAvailable: true},
	})

	if got := exp.Render(context.Background()); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderCountersAndLatencyHistogram(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:               7,
				authcore.MetricPasswordResetReuseDetected: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render(context.Background())
	for _, want := range []string{
		"# TYPE authcore_login_success_total counter",
		"authcore_login_success_total 7",
		"authcore_password_reset_reuse_detected_total 1",
		"authcore_two_factor_required_total 0",
		`authcore_validate_latency_seconds_bucket{le="0.005"} 1`,
		`authcore_validate_latency_seconds_bucket{le="+Inf"} 36`,
		"authcore_validate_latency_seconds_count 36",
		"authcore_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, storeUpName) {
		t.Fatalf("expected no store gauge without a health source, got:\n%s", out)
	}
}

func TestRenderStoreHealth(t *testing.T) {
	source := healthySource{
		fakeSource: fakeSource{snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{authcore.MetricLogout: 1},
		}},
		status: authcore.HealthStatus{StoreAvailable: true, StoreLatency: 1500 * time.Microsecond},
	}

	out := NewFromSource(source).Render(context.Background())
	if !strings.Contains(out, "# TYPE authcore_store_up gauge\nauthcore_store_up 1\n") {
		t.Fatalf("expected store up gauge, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_store_ping_seconds 0.0015\n") {
		t.Fatalf("expected store ping gauge, got:\n%s", out)
	}

	source.status = authcore.HealthStatus{}
	if out := NewFromSource(source).Render(context.Background()); !strings.Contains(out, "authcore_store_up 0\n") {
		t.Fatalf("expected store down gauge, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != contentType {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authcore_login_success_total 1") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func TestEscapeHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != `a\\b\nc` {
		t.Fatalf("unexpected escape %q", got)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:   1000,
				authcore.MetricLoginFailure:   40,
				authcore.MetricRefreshSuccess: 800,
				authcore.MetricOTPSent:        120,
				authcore.MetricHeartbeat:      2000,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render(ctx)
	}
}
