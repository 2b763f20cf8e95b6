package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by a rate limiter.",
		},
		[]string{"limiter"},
	)

	impersonationIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impersonation_tokens_issued_total",
			Help: "Impersonation tokens minted, by capability mode.",
		},
		[]string{"mode"},
	)

	impersonationRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "impersonation_validation_failures_total",
		Help: "Impersonation tokens that failed validation.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		rateLimitRejections,
		impersonationIssued,
		impersonationRejected,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RateLimitRejected counts one rejection by the named limiter.
func RateLimitRejected(limiter string) {
	rateLimitRejections.WithLabelValues(limiter).Inc()
}

// ImpersonationIssued counts one minted impersonation token.
func ImpersonationIssued(mode string) {
	impersonationIssued.WithLabelValues(mode).Inc()
}

// ImpersonationRejected counts one failed impersonation validation.
func ImpersonationRejected() {
	impersonationRejected.Inc()
}

// Instrument wraps a handler with request count, latency and in-flight
// metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses entity identifiers in metric labels so path
// cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	// /v1/orgs/<id> and /v1/orgs/<id>/users carry ULIDs.
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "orgs" && parts[3] != "" {
		parts[3] = ":id"
		if len(parts) == 4 || (len(parts) == 5 && parts[4] == "users") {
			return strings.Join(parts, "/")
		}
	}
	return path
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
