package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolMetrics_Singleton(t *testing.T) {
	metrics1 := GetMetrics()
	metrics2 := GetMetrics()

	assert.Same(t, metrics1, metrics2, "GetMetrics should return the same instance")
}

func TestPoolMetrics_NilIsNoop(t *testing.T) {
	var pm *PoolMetrics

	assert.NotPanics(t, func() {
		pm.SetPoolNodes(3)
		pm.SetBlacklistedNodes(1)
		pm.SetOpenRequests("a:1", 2)
		pm.DeleteNode("a:1")
		pm.RecordAttempt("a:1", "fatal")
		pm.RecordCall("success")
		pm.ObserveBackoff(time.Second)
		pm.RecordRingRefresh("success", 4)
		pm.RecordRequest("GET", "/x", "200")
		pm.ObserveRequestDuration("GET", "/x", 0.1)
		pm.IncRequestsInFlight()
		pm.DecRequestsInFlight()
	})
}

func TestPoolMetrics_Values(t *testing.T) {
	pm := NewPoolMetrics(prometheus.NewRegistry())

	pm.SetPoolNodes(5)
	pm.SetBlacklistedNodes(2)
	pm.RecordAttempt("a:1", "connection")
	pm.RecordAttempt("a:1", "connection")
	pm.RecordCall("exhausted")
	pm.SetOpenRequests("a:1", 7)

	assert.Equal(t, 5.0, testutil.ToFloat64(pm.PoolNodes))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.BlacklistedNodes))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.AttemptsTotal.WithLabelValues("a:1", "connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.CallsTotal.WithLabelValues("exhausted")))
	assert.Equal(t, 7.0, testutil.ToFloat64(pm.OpenRequests.WithLabelValues("a:1")))

	pm.DeleteNode("a:1")
	assert.Equal(t, 0, testutil.CollectAndCount(pm.OpenRequests))
}

func TestPoolMetrics_RingRefresh(t *testing.T) {
	pm := NewPoolMetrics(prometheus.NewRegistry())

	pm.RecordRingRefresh("success", 12)
	pm.RecordRingRefresh("failure", 0)

	assert.Equal(t, 12.0, testutil.ToFloat64(pm.RingRanges), "a failed refresh keeps the range gauge")
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RingRefreshTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.RingRefreshTotal.WithLabelValues("failure")))
}

func TestMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPoolMetrics(registry)

	router := mux.NewRouter()
	router.Use(pm.Middleware)
	router.HandleFunc("/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodPut)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	for _, key := range []string{"a", "b", "c"} {
		req := httptest.NewRequest(http.MethodPut, "/keys/"+key, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
	}

	// Keys collapse into the route template
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.RequestsTotal.WithLabelValues("PUT", "/keys/{key}", "201")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.RequestsInFlight))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "ringpool_http_requests_total"))
}
