package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timegrid",
		Subsystem: "server",
		Name:      "http_requests_total",
		Help:      "HTTP requests, by route and status.",
	}, []string{"route", "status"})

	httpDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "timegrid",
		Subsystem: "server",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds, by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "timegrid",
		Subsystem: "server",
		Name:      "ws_connections_active",
		Help:      "Open event stream connections.",
	})

	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timegrid",
		Subsystem: "server",
		Name:      "events_published_total",
		Help:      "Library change events published, by type.",
	}, []string{"type"})

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timegrid",
		Subsystem: "server",
		Name:      "events_dropped_total",
		Help:      "Events dropped for slow subscribers.",
	})
)

// metricsMiddleware records request counts and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		httpDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
