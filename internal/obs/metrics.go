package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

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

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trullo_authz_decisions_total",
			Help: "Authorization decisions by operation and outcome code.",
		},
		[]string{"operation", "code"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trullo_ready",
		Help: "1 when the service passed its last readiness check.",
	})
)

// Init registers metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authzDecisions, ready)
	})
}

// Handler serves the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts one authorization outcome. Allowed decisions use code "ALLOW".
func ObserveDecision(operation, code string) {
	if operation == "" {
		operation = "unnamed"
	}
	if code == "" {
		code = "ALLOW"
	}
	authzDecisions.WithLabelValues(operation, code).Inc()
}

// SetReady records the last readiness result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument records RPS, latency and in-flight requests.
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

// collections whose next segment is an identifier.
var idCollections = map[string]bool{
	"users":    true,
	"projects": true,
	"tasks":    true,
	"members":  true,
}

// CanonicalPath replaces identifier segments with ":id" so label
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if idCollections[parts[i-1]] && !isStaticSegment(parts[i]) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isStaticSegment(s string) bool {
	switch s {
	case "me", "roles", "mine", "statuses", "join", "leave", "transfer", "password", "role":
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
