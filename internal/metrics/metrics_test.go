package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler()(w, req)
	return w.Body.String()
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/documents/status/proc-1", 200, 100*time.Millisecond)
	m.RecordRequest("GET", "/documents/status/proc-1", 200, 150*time.Millisecond)
	m.RecordRequest("GET", "/documents/status/proc-1", 500, 50*time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, "otc_backend_requests_total") {
		t.Error("expected otc_backend_requests_total metric")
	}
	if !strings.Contains(body, "otc_backend_request_duration_seconds") {
		t.Error("expected otc_backend_request_duration_seconds metric")
	}
	if !strings.Contains(body, `status_class="5xx"`) {
		t.Errorf("expected a 5xx error series, got:\n%s", body)
	}
}

func TestMetrics_TransportFailuresCounted(t *testing.T) {
	m := New()
	m.RecordRequest("GET", "/documents/status/proc-1", 0, 8*time.Second)

	body := scrape(t, m)
	if !strings.Contains(body, `status_class="transport"`) {
		t.Errorf("expected a transport error series, got:\n%s", body)
	}
}

func TestMetrics_NormalizeEndpoint(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/documents/status/f47ac10b-58cc-4372-a567-0e02b2c3d479", "/documents/status/{id}"},
		{"/documents/result/12345", "/documents/result/{id}"},
		{"/balance/me/balance", "/balance/me/balance"},
	}

	for _, tt := range tests {
		if got := normalizeEndpoint(tt.path); got != tt.expected {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}

func TestMetrics_Subscribers(t *testing.T) {
	m := New()

	m.IncSubscribers()
	m.IncSubscribers()
	m.DecSubscribers()

	body := scrape(t, m)
	if !strings.Contains(body, "otc_bridge_subscribers_active 1") {
		t.Errorf("expected otc_bridge_subscribers_active 1, got:\n%s", body)
	}
}

func TestMetrics_ConsecutiveFailures(t *testing.T) {
	m := New()
	m.SetConsecutiveFailures(7)

	body := scrape(t, m)
	if !strings.Contains(body, "otc_poll_consecutive_failures 7") {
		t.Errorf("expected otc_poll_consecutive_failures 7, got:\n%s", body)
	}
}

func TestMetrics_CountersAndGauges(t *testing.T) {
	m := New()

	m.IncCounter("token_refreshes_total")
	m.IncCounter("token_refreshes_total")
	m.SetGauge("job_progress", 42)

	body := scrape(t, m)
	if !strings.Contains(body, `otc_counter{name="token_refreshes_total"} 2`) {
		t.Errorf("expected the counter series, got:\n%s", body)
	}
	if !strings.Contains(body, `otc_gauge{name="job_progress"}`) {
		t.Errorf("expected the gauge series, got:\n%s", body)
	}
}

func TestHistogram_Observe(t *testing.T) {
	h := NewHistogram()
	h.Observe(0.003)
	h.Observe(0.3)
	h.Observe(30)

	if h.count != 3 {
		t.Errorf("expected count 3, got %d", h.count)
	}
	// 0.003 lands in every bucket, 0.3 from 0.5 up, 30 in none
	if h.bucketVals[0] != 1 {
		t.Errorf("expected 1 observation <= 5ms, got %d", h.bucketVals[0])
	}
	if h.bucketVals[len(h.bucketVals)-1] != 2 {
		t.Errorf("expected 2 observations <= 10s, got %d", h.bucketVals[len(h.bucketVals)-1])
	}
}
