// Package metrics tracks what the client is doing against the backend:
// outbound request counts and latencies, poll fallbacks, token refreshes and
// bridge subscribers. The bridge exposes it in Prometheus text format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds all client metrics
type Metrics struct {
	mu sync.RWMutex

	// Outbound backend request metrics
	requestCount    map[string]*uint64    // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> latency histogram
	requestErrors   map[string]*uint64    // endpoint:method:status_class -> count

	// Bridge metrics
	activeSubscribers int64

	// Poll loop state
	consecutiveFailures int64

	counters map[string]*uint64
	gauges   map[string]float64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a new histogram with default buckets
func NewHistogram() *Histogram {
	return &Histogram{
		buckets:    []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		bucketVals: make([]uint64, 11),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		requestErrors:   make(map[string]*uint64),
		counters:        make(map[string]*uint64),
		gauges:          make(map[string]float64),
		startTime:       time.Now(),
	}
}

var defaultMetrics = New()

// Default returns the process-wide metrics instance
func Default() *Metrics {
	return defaultMetrics
}

// RecordRequest records one outbound backend request. A zero status marks a
// transport failure that never produced a response.
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	m.mu.Lock()
	if m.requestCount[key] == nil {
		var zero uint64
		m.requestCount[key] = &zero
	}
	if m.requestDuration[key] == nil {
		m.requestDuration[key] = NewHistogram()
	}
	m.mu.Unlock()

	atomic.AddUint64(m.requestCount[key], 1)

	m.mu.RLock()
	m.requestDuration[key].Observe(duration.Seconds())
	m.mu.RUnlock()

	if statusCode >= 400 || statusCode == 0 {
		class := "transport"
		if statusCode > 0 {
			class = fmt.Sprintf("%dxx", statusCode/100)
		}
		errorKey := fmt.Sprintf("%s:%s", key, class)
		m.mu.Lock()
		if m.requestErrors[errorKey] == nil {
			var zero uint64
			m.requestErrors[errorKey] = &zero
		}
		m.mu.Unlock()
		atomic.AddUint64(m.requestErrors[errorKey], 1)
	}
}

// normalizeEndpoint replaces process IDs in paths so metrics do not explode
// into one series per job.
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IncSubscribers increments the bridge subscriber gauge
func (m *Metrics) IncSubscribers() {
	atomic.AddInt64(&m.activeSubscribers, 1)
}

// DecSubscribers decrements the bridge subscriber gauge
func (m *Metrics) DecSubscribers() {
	atomic.AddInt64(&m.activeSubscribers, -1)
}

// SetConsecutiveFailures records the poll loop's current failure streak
func (m *Metrics) SetConsecutiveFailures(n int64) {
	atomic.StoreInt64(&m.consecutiveFailures, n)
}

// SetGauge sets a gauge value
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// IncCounter increments a counter
func (m *Metrics) IncCounter(name string) {
	m.mu.Lock()
	if m.counters[name] == nil {
		var zero uint64
		m.counters[name] = &zero
	}
	m.mu.Unlock()
	atomic.AddUint64(m.counters[name], 1)
}

// Handler returns an HTTP handler serving Prometheus text format
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		uptime := time.Since(m.startTime).Seconds()
		sb.WriteString("# HELP otc_uptime_seconds Time since the client started\n")
		sb.WriteString("# TYPE otc_uptime_seconds gauge\n")
		sb.WriteString(fmt.Sprintf("otc_uptime_seconds %f\n\n", uptime))

		sb.WriteString("# HELP otc_bridge_subscribers_active Active bridge WebSocket subscribers\n")
		sb.WriteString("# TYPE otc_bridge_subscribers_active gauge\n")
		sb.WriteString(fmt.Sprintf("otc_bridge_subscribers_active %d\n\n", atomic.LoadInt64(&m.activeSubscribers)))

		sb.WriteString("# HELP otc_poll_consecutive_failures Current poll loop failure streak\n")
		sb.WriteString("# TYPE otc_poll_consecutive_failures gauge\n")
		sb.WriteString(fmt.Sprintf("otc_poll_consecutive_failures %d\n\n", atomic.LoadInt64(&m.consecutiveFailures)))

		m.mu.RLock()
		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP otc_backend_requests_total Total outbound backend requests\n")
			sb.WriteString("# TYPE otc_backend_requests_total counter\n")
			keys := make([]string, 0, len(m.requestCount))
			for k := range m.requestCount {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					count := atomic.LoadUint64(m.requestCount[key])
					sb.WriteString(fmt.Sprintf("otc_backend_requests_total{endpoint=%q,method=%q} %d\n", parts[0], parts[1], count))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestDuration) > 0 {
			sb.WriteString("# HELP otc_backend_request_duration_seconds Outbound request latency\n")
			sb.WriteString("# TYPE otc_backend_request_duration_seconds histogram\n")
			keys := make([]string, 0, len(m.requestDuration))
			for k := range m.requestDuration {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					h := m.requestDuration[key]
					h.mu.Lock()
					for i, bucket := range h.buckets {
						sb.WriteString(fmt.Sprintf("otc_backend_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"%g\"} %d\n", parts[0], parts[1], bucket, h.bucketVals[i]))
					}
					sb.WriteString(fmt.Sprintf("otc_backend_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"+Inf\"} %d\n", parts[0], parts[1], h.count))
					sb.WriteString(fmt.Sprintf("otc_backend_request_duration_seconds_sum{endpoint=%q,method=%q} %f\n", parts[0], parts[1], h.sum))
					sb.WriteString(fmt.Sprintf("otc_backend_request_duration_seconds_count{endpoint=%q,method=%q} %d\n", parts[0], parts[1], h.count))
					h.mu.Unlock()
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			sb.WriteString("# HELP otc_backend_errors_total Failed backend requests by status class\n")
			sb.WriteString("# TYPE otc_backend_errors_total counter\n")
			keys := make([]string, 0, len(m.requestErrors))
			for k := range m.requestErrors {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.Split(key, ":")
				if len(parts) >= 3 {
					count := atomic.LoadUint64(m.requestErrors[key])
					sb.WriteString(fmt.Sprintf("otc_backend_errors_total{endpoint=%q,method=%q,status_class=%q} %d\n", parts[0], parts[1], parts[2], count))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.gauges) > 0 {
			sb.WriteString("# HELP otc_gauge Custom gauge metrics\n")
			sb.WriteString("# TYPE otc_gauge gauge\n")
			keys := make([]string, 0, len(m.gauges))
			for k := range m.gauges {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, name := range keys {
				sb.WriteString(fmt.Sprintf("otc_gauge{name=%q} %f\n", name, m.gauges[name]))
			}
			sb.WriteString("\n")
		}

		if len(m.counters) > 0 {
			sb.WriteString("# HELP otc_counter Custom counter metrics\n")
			sb.WriteString("# TYPE otc_counter counter\n")
			keys := make([]string, 0, len(m.counters))
			for k := range m.counters {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, name := range keys {
				count := atomic.LoadUint64(m.counters[name])
				sb.WriteString(fmt.Sprintf("otc_counter{name=%q} %d\n", name, count))
			}
		}
		m.mu.RUnlock()

		w.Write([]byte(sb.String()))
	}
}
