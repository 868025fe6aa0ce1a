package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garage_http_requests_total",
			Help: "Total number of HTTP requests received by the API.",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "garage_http_request_duration_seconds",
			Help:    "Duration of HTTP requests handled by the API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	emergencyQuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garage_emergency_quotes_total",
			Help: "Emergency price quotes by outcome.",
		},
		[]string{"outcome"},
	)

	emergencyDistanceKm = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "garage_emergency_distance_km",
			Help:    "Distance between the customer and the branch chosen for an emergency quote.",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 50, 100},
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		emergencyQuotesTotal,
		emergencyDistanceKm,
	)
}

// metricsMiddleware records basic request metrics for Prometheus (RPS and latency).
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		durationSeconds := time.Since(start).Seconds()
		status := strconv.Itoa(ww.Status())
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(route, r.Method, status).Observe(durationSeconds)
	})
}

func observeQuote(outcome string, distanceKm float64) {
	emergencyQuotesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		emergencyDistanceKm.Observe(distanceKm)
	}
}
