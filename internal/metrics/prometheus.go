package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Singleton instance registered with the default registry
	instance *PoolMetrics
	once     sync.Once
)

// PoolMetrics handles all metrics collection for the client pool. A nil
// *PoolMetrics is valid and records nothing.
type PoolMetrics struct {
	// Pool metrics
	PoolNodes        prometheus.Gauge
	BlacklistedNodes prometheus.Gauge
	OpenRequests     *prometheus.GaugeVec

	// Routing metrics
	AttemptsTotal  *prometheus.CounterVec
	CallsTotal     *prometheus.CounterVec
	BackoffSeconds prometheus.Histogram

	// Topology metrics
	RingRefreshTotal *prometheus.CounterVec
	RingRanges       prometheus.Gauge

	// Admin API metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// NewPoolMetrics creates PoolMetrics registered with reg
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	factory := promauto.With(reg)
	return &PoolMetrics{
		PoolNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ringpool_nodes",
			Help: "The number of nodes with a connection container",
		}),
		BlacklistedNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ringpool_blacklisted_nodes",
			Help: "The number of nodes currently blacklisted",
		}),
		OpenRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ringpool_open_requests",
				Help: "The number of requests in flight per node",
			},
			[]string{"node"},
		),
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringpool_attempts_total",
				Help: "The total number of attempts by node and failure class",
			},
			[]string{"node", "class"},
		),
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringpool_calls_total",
				Help: "The total number of pool calls by outcome",
			},
			[]string{"outcome"},
		),
		BackoffSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ringpool_backoff_seconds",
			Help:    "The delays spent backing off before a retry",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		RingRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringpool_ring_refresh_total",
				Help: "The total number of ring refreshes by result",
			},
			[]string{"result"},
		),
		RingRanges: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ringpool_ring_ranges",
			Help: "The number of token ranges in the installed ring",
		}),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringpool_http_requests_total",
				Help: "The total number of processed HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ringpool_http_request_duration_seconds",
				Help:    "The HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ringpool_http_requests_in_flight",
			Help: "The number of HTTP requests currently being processed",
		}),
	}
}

// GetMetrics returns the singleton PoolMetrics on the default registry
func GetMetrics() *PoolMetrics {
	once.Do(func() {
		instance = NewPoolMetrics(prometheus.DefaultRegisterer)
	})
	return instance
}

// Handler returns the handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetPoolNodes updates the number of nodes in the pool
func (pm *PoolMetrics) SetPoolNodes(count int) {
	if pm == nil {
		return
	}
	pm.PoolNodes.Set(float64(count))
}

// SetBlacklistedNodes updates the number of blacklisted nodes
func (pm *PoolMetrics) SetBlacklistedNodes(count int) {
	if pm == nil {
		return
	}
	pm.BlacklistedNodes.Set(float64(count))
}

// SetOpenRequests updates the in-flight count of a node
func (pm *PoolMetrics) SetOpenRequests(node string, count int) {
	if pm == nil {
		return
	}
	pm.OpenRequests.WithLabelValues(node).Set(float64(count))
}

// DeleteNode drops the per-node series of a removed node
func (pm *PoolMetrics) DeleteNode(node string) {
	if pm == nil {
		return
	}
	pm.OpenRequests.DeleteLabelValues(node)
}

// RecordAttempt records one attempt against a node
func (pm *PoolMetrics) RecordAttempt(node, class string) {
	if pm == nil {
		return
	}
	pm.AttemptsTotal.WithLabelValues(node, class).Inc()
}

// RecordCall records the outcome of a pool call
func (pm *PoolMetrics) RecordCall(outcome string) {
	if pm == nil {
		return
	}
	pm.CallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBackoff records a backoff delay
func (pm *PoolMetrics) ObserveBackoff(d time.Duration) {
	if pm == nil {
		return
	}
	pm.BackoffSeconds.Observe(d.Seconds())
}

// RecordRingRefresh records a ring refresh and the resulting range count
func (pm *PoolMetrics) RecordRingRefresh(result string, ranges int) {
	if pm == nil {
		return
	}
	pm.RingRefreshTotal.WithLabelValues(result).Inc()
	if result == "success" {
		pm.RingRanges.Set(float64(ranges))
	}
}

// RecordRequest records an HTTP request with its method, endpoint, and status
func (pm *PoolMetrics) RecordRequest(method, endpoint, status string) {
	if pm == nil {
		return
	}
	pm.RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
}

// ObserveRequestDuration records the duration of an HTTP request
func (pm *PoolMetrics) ObserveRequestDuration(method, endpoint string, duration float64) {
	if pm == nil {
		return
	}
	pm.RequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// IncRequestsInFlight increments the number of HTTP requests in flight
func (pm *PoolMetrics) IncRequestsInFlight() {
	if pm == nil {
		return
	}
	pm.RequestsInFlight.Inc()
}

// DecRequestsInFlight decrements the number of HTTP requests in flight
func (pm *PoolMetrics) DecRequestsInFlight() {
	if pm == nil {
		return
	}
	pm.RequestsInFlight.Dec()
}
