package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	apiserver "github.com/claboran/orchestrator-worker-poc/internal/api_server"
	"github.com/claboran/orchestrator-worker-poc/internal/config"
	"github.com/claboran/orchestrator-worker-poc/internal/events"
	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/service"
	"github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	modeOrchestrator = "orchestrator"
	modeWorker       = "worker"
	modeAPI          = "api"
	modeAll          = "all"
)

var (
	legalModes = []string{modeOrchestrator, modeWorker, modeAPI, modeAll}
)

type RunOptions struct {
	Mode        string
	Concurrency int

	cfg *config.Config
}

func DefaultRunOptions() *RunOptions {
	return &RunOptions{
		Mode: modeAll,
	}
}

func NewCmdRun() *cobra.Command {
	o := DefaultRunOptions()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator, the worker, the api or all of them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *RunOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Mode, "mode", "m", o.Mode, fmt.Sprintf("Role of the process. One of: (%s).", strings.Join(legalModes, ", ")))
	fs.IntVar(&o.Concurrency, "concurrency", o.Concurrency, "Number of messages handled in parallel. Overrides ORCHESTRATOR_CONCURRENCY.")
}

func (o *RunOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	if o.Concurrency > 0 {
		cfg.Queue.Concurrency = o.Concurrency
	}
	o.cfg = cfg
	return nil
}

func (o *RunOptions) Validate(args []string) error {
	if !funk.Contains(legalModes, o.Mode) {
		return fmt.Errorf("mode must be one of %s", strings.Join(legalModes, ", "))
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	return nil
}

func (o *RunOptions) Run(ctx context.Context) error {
	flush, err := initLogging(o.cfg)
	if err != nil {
		return err
	}
	defer flush()

	log := zap.S().Named("run")
	log.Infow("Starting orchestrator-worker", "mode", o.Mode)
	defer log.Info("orchestrator-worker stopped")
	log.Debugf("Using config: %s", o.cfg)

	if o.cfg.Queue.Transport == config.TransportMemory && o.Mode != modeAll {
		log.Warnw("memory transport only connects roles running in this process", "mode", o.Mode)
	}

	s, err := openStore(o.cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if o.cfg.Database.Type != "pgsql" {
		if err := s.InitialMigration(); err != nil {
			return fmt.Errorf("running initial migration: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	transport, err := newTransport(ctx, o.cfg)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	defer transport.Close()

	if err := prometheus.Register(metrics.NewJobStatsCollector(s)); err != nil {
		return fmt.Errorf("registering job collector: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if o.runs(modeOrchestrator) {
		generator, err := service.NewPageGenerator(s, o.cfg.Service.PagesPerJob, o.cfg.Service.ItemsPerPage)
		if err != nil {
			return err
		}
		producer := events.NewEventProducer(events.NewStdoutWriter(), events.WithOutputTopic(o.cfg.Service.EventsTopic))
		defer producer.Close()

		orchestrator := service.NewOrchestrator(s, generator, transport, producer)
		o.consume(ctx, g, transport, queue.Control, orchestrator)
	}

	if o.runs(modeWorker) {
		o.consume(ctx, g, transport, queue.Worker, service.NewWorker(transport, nil))
	}

	if o.runs(modeAPI) {
		o.serveAPI(ctx, g, s, transport)
	} else {
		o.serveMetrics(ctx, g)
	}

	return g.Wait()
}

func (o *RunOptions) runs(mode string) bool {
	return o.Mode == modeAll || o.Mode == mode
}

func (o *RunOptions) consume(ctx context.Context, g *errgroup.Group, t queue.Transport, name queue.Name, h queue.Handler) {
	consumer := queue.NewConsumer(t, name, h, queue.WithConcurrency(o.cfg.Queue.Concurrency))
	g.Go(func() error {
		zap.S().Named("run").Infow("consuming", "queue", name, "concurrency", o.cfg.Queue.Concurrency)
		if err := consumer.Run(ctx); err != nil {
			return fmt.Errorf("consuming %s: %w", name, err)
		}
		return nil
	})
}

func (o *RunOptions) serveAPI(ctx context.Context, g *errgroup.Group, s store.Store, t queue.Transport) {
	g.Go(func() error {
		listener, err := newListener(o.cfg.Service.Address)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}

		server := apiserver.New(o.cfg, service.NewJobService(s, t), listener)
		if err := server.Run(ctx); err != nil {
			return fmt.Errorf("running api server: %w", err)
		}
		return nil
	})
}

func (o *RunOptions) serveMetrics(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		listener, err := newListener(o.cfg.Service.MetricsAddress)
		if err != nil {
			return fmt.Errorf("creating metrics listener: %w", err)
		}

		server := apiserver.NewMetricServer(listener, prometheus.DefaultGatherer)
		return server.Run(ctx)
	})
}
