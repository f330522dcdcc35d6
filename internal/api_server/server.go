package apiserver

import (
	"context"
	"fmt"
	"net"
	"net/http"

	api "github.com/claboran/orchestrator-worker-poc/api/v1alpha1"
	"github.com/claboran/orchestrator-worker-poc/internal/api/server"
	"github.com/claboran/orchestrator-worker-poc/internal/config"
	"github.com/claboran/orchestrator-worker-poc/internal/service"
	"github.com/claboran/orchestrator-worker-poc/pkg/log"
	"github.com/claboran/orchestrator-worker-poc/pkg/metrics"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	cfg      *config.Config
	jobs     *service.JobService
	listener net.Listener
}

// New returns a new instance of the job API server.
func New(
	cfg *config.Config,
	jobs *service.JobService,
	listener net.Listener,
) *Server {
	return &Server{
		cfg:      cfg,
		jobs:     jobs,
		listener: listener,
	}
}

func oapiErrorHandler(w http.ResponseWriter, message string, statusCode int) {
	http.Error(w, fmt.Sprintf("API Error: %s", message), statusCode)
}

// Router builds the HTTP handler. Request metrics are registered to reg and
// /metrics serves gatherer. Only the job routes go through the OpenAPI
// request validator.
func (s *Server) Router(reg prometheus.Registerer, gatherer prometheus.Gatherer) (http.Handler, error) {
	swagger, err := api.GetSwagger()
	if err != nil {
		return nil, fmt.Errorf("failed to load swagger spec: %w", err)
	}
	// Skip server name validation
	swagger.Servers = nil

	oapiOpts := oapimiddleware.Options{
		ErrorHandler: oapiErrorHandler,
	}

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server", s.cfg.Service.LatencyBuckets)
	metricMiddleware.MustRegister(reg)

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}),
		chiMiddleware.RequestID,
		log.Logger(zap.L(), "router"),
		chiMiddleware.Recoverer,
	)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h := newJobHandler(s.jobs)
	router.Group(func(r chi.Router) {
		r.Use(oapimiddleware.OapiRequestValidatorWithOptions(swagger, &oapiOpts))
		strict := server.NewStrictHandlerWithOptions(h, nil, server.StrictHTTPServerOptions{
			RequestErrorHandlerFunc:  renderError(http.StatusBadRequest),
			ResponseErrorHandlerFunc: renderError(http.StatusInternalServerError),
		})
		server.HandlerWithOptions(strict, server.ChiServerOptions{
			BaseRouter:       r,
			ErrorHandlerFunc: renderError(http.StatusBadRequest),
		})
	})

	return router, nil
}

// Run serves the API on the server listener until ctx is cancelled. Request
// metrics go to the default prometheus registry.
func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Router(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	return serve(ctx, "api_server", s.listener, handler)
}
