package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/arohanajit/ringpool/internal/metrics"
	"github.com/arohanajit/ringpool/internal/pool"
)

// RouterConfig wires the admin API
type RouterConfig struct {
	Pool           *pool.Pool
	Metrics        *metrics.PoolMetrics
	MetricsHandler http.Handler
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// NewRouter builds the admin and key proxy routes
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		api.Use(cfg.Metrics.Middleware)
	}
	api.Use(TimeoutMiddleware(cfg.RequestTimeout))

	NewKeyHandler(cfg.Pool, cfg.Logger).RegisterRoutes(api)
	NewClusterHandler(cfg.Pool).RegisterRoutes(api)

	return r
}

// handleHealth handles health check requests
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
