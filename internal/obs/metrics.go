package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every route.
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
)

// Security-domain counters.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edvault_logins_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	grantsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edvault_grants_issued_total",
		Help: "Content access grants issued.",
	})

	tenantRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edvault_tenant_rejections_total",
		Help: "Requests rejected by the tenant isolation guard.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, grantsIssuedTotal, tenantRejectionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records an authentication attempt outcome (success, failed, ...).
func ObserveLogin(outcome string) {
	loginsTotal.WithLabelValues(outcome).Inc()
}

// ObserveGrantIssued records one issued access grant.
func ObserveGrantIssued() {
	grantsIssuedTotal.Inc()
}

// ObserveTenantRejection records one cross-tenant rejection.
func ObserveTenantRejection() {
	tenantRejectionsTotal.Inc()
}

// CanonicalPath collapses per-entity path segments so metric labels stay
// low-cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "content-units":
		if len(parts) == 4 && (parts[3] == "access" || parts[3] == "status") {
			return "/v1/content-units/:id/" + parts[3]
		}
		if len(parts) == 3 {
			return "/v1/content-units/:id"
		}
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "tenants":
		if len(parts) == 4 && parts[3] == "status" {
			return "/v1/tenants/:id/status"
		}
		if len(parts) == 3 {
			return "/v1/tenants/:id"
		}
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
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

// statusWriter captures the response code written by downstream handlers.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
