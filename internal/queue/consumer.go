package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claboran/orchestrator-worker-poc/pkg/metrics"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome tells the consumer what to do with a handled delivery.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Retry leaves the message unacknowledged so the broker redelivers it
	// once the visibility timeout expires.
	Retry
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Handler interface {
	Handle(ctx context.Context, d *Delivery) Outcome
}

type HandlerFunc func(ctx context.Context, d *Delivery) Outcome

func (f HandlerFunc) Handle(ctx context.Context, d *Delivery) Outcome {
	return f(ctx, d)
}

// Consumer runs a bounded pool of receive/handle/acknowledge loops against
// one queue.
type Consumer struct {
	transport    Transport
	queue        Name
	handler      Handler
	concurrency  int
	errorBackoff time.Duration
	log          *zap.SugaredLogger
}

type ConsumerOption func(c *Consumer)

// WithConcurrency sets the number of messages handled at the same time.
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithErrorBackoff sets the mean pause after a failed receive.
func WithErrorBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.errorBackoff = d
		}
	}
}

func NewConsumer(t Transport, queue Name, h Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		transport:    t,
		queue:        queue,
		handler:      h,
		concurrency:  1,
		errorBackoff: time.Second,
		log:          zap.S().Named("consumer").With("queue", string(queue)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run blocks until ctx is cancelled and every in-flight message is handled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Infow("consumer started", "concurrency", c.concurrency)
	defer c.log.Info("consumer stopped")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.concurrency; i++ {
		g.Go(func() error {
			return c.loop(gctx)
		})
	}
	return g.Wait()
}

func (c *Consumer) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		d, err := c.transport.Receive(ctx, c.queue)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrClosed) {
				return err
			}
			c.log.Errorw("failed to receive message", "error", err)
			c.pause(ctx)
			continue
		}

		outcome := c.handle(ctx, d)
		metrics.IncreaseMessagesHandledMetric(string(c.queue), outcome.String())
		if outcome != Ack {
			c.log.Debugw("message left for redelivery", "receive_count", d.ReceiveCount)
			continue
		}

		// the handler's side effects are durable at this point, so a
		// cancelled ctx must not prevent the acknowledgement
		if err := c.transport.Acknowledge(context.WithoutCancel(ctx), d.Handle); err != nil {
			c.log.Errorw("failed to acknowledge message", "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d *Delivery) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("handler panicked", "panic", r)
			outcome = Retry
		}
	}()
	return c.handler.Handle(ctx, d)
}

func (c *Consumer) pause(ctx context.Context) {
	t := jitterbug.New(c.errorBackoff, &jitterbug.Norm{Stdev: c.errorBackoff / 4})
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
