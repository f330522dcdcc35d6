package apiserver

import (
	"context"
	"net"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricServer exposes /metrics for the roles that do not run the API server.
type MetricServer struct {
	router   chi.Router
	listener net.Listener
}

func NewMetricServer(listener net.Listener, gatherer prometheus.Gatherer) *MetricServer {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return &MetricServer{router: router, listener: listener}
}

func (m *MetricServer) Run(ctx context.Context) error {
	return serve(ctx, "metrics_server", m.listener, m.router)
}
