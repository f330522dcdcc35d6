package main

import (
	"context"
	"fmt"
	"net"

	"github.com/claboran/orchestrator-worker-poc/internal/config"
	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/queue/memory"
	"github.com/claboran/orchestrator-worker-poc/internal/queue/rabbitmq"
	"github.com/claboran/orchestrator-worker-poc/internal/queue/redisstream"
	"github.com/claboran/orchestrator-worker-poc/internal/queue/sqs"
	"github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/pkg/log"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// initLogging replaces the global zap logger and returns the function that
// flushes and restores it.
func initLogging(cfg *config.Config) (func(), error) {
	logger, err := log.InitLog(log.ParseLevel(cfg.Service.LogLevel), cfg.Service.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	zap.S().Named("setup").Info("Initializing data store")
	db, err := store.InitDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}
	return store.NewStore(db), nil
}

func newTransport(ctx context.Context, cfg *config.Config) (queue.Transport, error) {
	names := queue.QueueNames{
		queue.Control: cfg.Queue.ControlQueue,
		queue.Worker:  cfg.Queue.WorkerQueue,
	}

	zap.S().Named("setup").Infow("Initializing transport", "transport", cfg.Queue.Transport, "control_queue", names.Resolve(queue.Control), "worker_queue", names.Resolve(queue.Worker))

	switch cfg.Queue.Transport {
	case config.TransportSQS:
		client, err := sqs.NewClient(ctx, cfg.Queue.SQS.Region, cfg.Queue.SQS.Endpoint)
		if err != nil {
			return nil, err
		}
		return sqs.New(client, names, cfg.Queue.VisibilityTimeout, cfg.Queue.SQS.WaitTime), nil
	case config.TransportRabbitMQ:
		return rabbitmq.Dial(cfg.Queue.RabbitMQ.URL, names, cfg.Queue.Concurrency, cfg.Queue.VisibilityTimeout)
	case config.TransportRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Queue.Redis.Addr, err)
		}
		return redisstream.New(client, names, cfg.Queue.Redis.Group, cfg.Queue.VisibilityTimeout), nil
	default:
		return memory.New(cfg.Queue.VisibilityTimeout), nil
	}
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
