package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/chatauth"
)

type fakeSource struct {
	snapshot chatauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() chatauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: chatauth.MetricsSnapshot{
			Counters:   map[chatauth.MetricID]uint64{},
			Histograms: map[chatauth.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCountersAndHistogram(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: chatauth.MetricsSnapshot{
			Counters: map[chatauth.MetricID]uint64{
				chatauth.MetricLoginSuccess:      7,
				chatauth.MetricRateLimitFailOpen: 3,
			},
			Histograms: map[chatauth.MetricID][]uint64{
				chatauth.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"chatauth_login_success_total 7",
		"chatauth_rate_limit_fail_open_total 3",
		"chatauth_account_locked_total 0",
		"chatauth_validate_latency_seconds_bucket{le=\"0.005\"} 1",
		"chatauth_validate_latency_seconds_bucket{le=\"+Inf\"} 36",
		"chatauth_validate_latency_seconds_count 36",
		"chatauth_audit_dropped_total 2",
		"# TYPE chatauth_validate_latency_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderOmitsDisabledHistogram(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: chatauth.MetricsSnapshot{
			Counters:   map[chatauth.MetricID]uint64{chatauth.MetricLogout: 1},
			Histograms: map[chatauth.MetricID][]uint64{},
		},
	})

	if out := exp.Render(); strings.Contains(out, "validate_latency") {
		t.Fatalf("expected no histogram when latency is disabled, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: chatauth.MetricsSnapshot{
			Counters:   map[chatauth.MetricID]uint64{chatauth.MetricLoginSuccess: 1},
			Histograms: map[chatauth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporter(fakeSource{
		snapshot: chatauth.MetricsSnapshot{
			Counters: map[chatauth.MetricID]uint64{
				chatauth.MetricLoginSuccess:       1000,
				chatauth.MetricLoginFailure:       40,
				chatauth.MetricRefreshSuccess:     800,
				chatauth.MetricValidateSuccess:    90000,
				chatauth.MetricSessionCreated:     800,
				chatauth.MetricSessionInvalidated: 20,
			},
			Histograms: map[chatauth.MetricID][]uint64{
				chatauth.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
