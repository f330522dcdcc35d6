package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	RequestsCollectorName = "chi_requests_total"
	LatencyCollectorName  = "chi_request_duration_milliseconds"
)

var (
	DefaultLatencyBuckets = []float64{300, 500, 1000, 5000}
	routeLabels           = []string{"code", "method", "path"}
)

// Middleware counts and times HTTP requests by status code, method and chi route pattern.
// Requests that match no route are not recorded.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMiddleware builds the collectors for the named service. Empty buckets fall back to DefaultLatencyBuckets.
func NewMiddleware(service string, latencyBuckets []float64) *Middleware {
	if len(latencyBuckets) == 0 {
		latencyBuckets = DefaultLatencyBuckets
	}
	labels := prometheus.Labels{"service": service}

	return &Middleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        RequestsCollectorName,
			Help:        "Number of HTTP requests partitioned by status code, method and HTTP path.",
			ConstLabels: labels,
		}, routeLabels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        LatencyCollectorName,
			Help:        "Time spent on the request partitioned by status code, method and HTTP path.",
			ConstLabels: labels,
			Buckets:     latencyBuckets,
		}, routeLabels),
	}
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rctx := chi.RouteContext(r.Context())
		if rctx == nil || rctx.RoutePattern() == "" {
			return
		}
		values := []string{strconv.Itoa(ww.Status()), r.Method, rctx.RoutePattern()}
		m.requests.WithLabelValues(values...).Inc()
		m.latency.WithLabelValues(values...).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// MustRegister registers the collectors to reg. Registering the same service twice on one registry panics.
func (m *Middleware) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.requests, m.latency)
}
