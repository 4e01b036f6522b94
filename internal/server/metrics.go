package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// metricsNamespace prefixes every metric name.
	metricsNamespace = "pdfrag"

	// labelHandler is the "handler" label used to partition metrics by the
	// route pattern rather than the raw URL path.
	labelHandler = "handler"

	// unmatchedHandler labels requests that matched no route.
	unmatchedHandler = "unmatched"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// requestsTotal counts completed /upload and /ask requests, partitioned
	// by operation and outcome ("ok" or an error kind).
	requestsTotal *prometheus.CounterVec

	// durationSeconds records the wall-clock duration of /upload and /ask.
	durationSeconds *prometheus.HistogramVec

	// documentsIndexed is the number of documents currently in the index.
	documentsIndexed prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rag",
			Name:      "requests_total",
			Help:      "Total number of upload and ask requests completed, partitioned by operation and outcome.",
		}, []string{"operation", "outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "rag",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of upload and ask requests.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"operation", "outcome"}),

		documentsIndexed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "rag",
			Name:      "documents_indexed",
			Help:      "Number of documents currently held in the index.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observe records one completed upload or ask.
func (s *Server) observe(operation, outcome string, start time.Time) {
	s.metrics.requestsTotal.WithLabelValues(operation, outcome).Inc()
	s.metrics.durationSeconds.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// instrument records generic HTTP metrics for every request served by next.
// next must be the mux itself so r.Pattern is populated after it returns.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		handler := r.Pattern
		if handler == "" {
			handler = unmatchedHandler
		}
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
