package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/queue/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// receiveErrors fails the first n receives.
type receiveErrors struct {
	queue.Transport
	n atomic.Int32
}

func (r *receiveErrors) Receive(ctx context.Context, name queue.Name) (*queue.Delivery, error) {
	if r.n.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	return r.Transport.Receive(ctx, name)
}

var _ = Describe("consumer", func() {
	var (
		broker *memory.Broker
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		broker = memory.New(time.Minute)
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		broker.Close()
	})

	send := func(bodies ...string) {
		for _, b := range bodies {
			Expect(broker.Send(context.TODO(), queue.Control, []byte(b), queue.Headers{"id": b})).To(Succeed())
		}
	}

	start := func(c *queue.Consumer) <-chan error {
		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			done <- c.Run(ctx)
		}()
		return done
	}

	It("acknowledges handled messages", func() {
		var (
			lock sync.Mutex
			seen []string
		)
		c := queue.NewConsumer(broker, queue.Control, queue.HandlerFunc(func(_ context.Context, d *queue.Delivery) queue.Outcome {
			lock.Lock()
			defer lock.Unlock()
			seen = append(seen, string(d.Body))
			Expect(d.Headers.Get("id")).To(Equal(string(d.Body)))
			return queue.Ack
		}))
		send("m1", "m2", "m3")
		done := start(c)

		Eventually(func() int { return broker.Len(queue.Control) }).Should(BeZero())
		lock.Lock()
		Expect(seen).To(Equal([]string{"m1", "m2", "m3"}))
		lock.Unlock()

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("leaves retried messages for redelivery", func() {
		var calls atomic.Int32
		c := queue.NewConsumer(broker, queue.Control, queue.HandlerFunc(func(_ context.Context, d *queue.Delivery) queue.Outcome {
			if calls.Add(1) == 1 {
				Expect(d.ReceiveCount).To(Equal(1))
				return queue.Retry
			}
			Expect(d.ReceiveCount).To(Equal(2))
			return queue.Ack
		}))
		send("m1")
		start(c)

		Eventually(calls.Load).Should(Equal(int32(1)))
		Consistently(func() int { return broker.Len(queue.Control) }, 100*time.Millisecond).Should(Equal(1))

		broker.Expire(queue.Control)
		Eventually(func() int { return broker.Len(queue.Control) }).Should(BeZero())
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("treats a panicking handler as a retry", func() {
		var calls atomic.Int32
		c := queue.NewConsumer(broker, queue.Control, queue.HandlerFunc(func(context.Context, *queue.Delivery) queue.Outcome {
			calls.Add(1)
			panic("boom")
		}))
		send("m1")
		start(c)

		Eventually(calls.Load).Should(Equal(int32(1)))
		Expect(broker.Len(queue.Control)).To(Equal(1))
	})

	It("handles messages concurrently up to the limit", func() {
		var (
			inFlight atomic.Int32
			peak     atomic.Int32
			release  = make(chan struct{})
		)
		c := queue.NewConsumer(broker, queue.Control, queue.HandlerFunc(func(context.Context, *queue.Delivery) queue.Outcome {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return queue.Ack
		}), queue.WithConcurrency(3))
		send("m1", "m2", "m3", "m4", "m5")
		start(c)

		Eventually(inFlight.Load).Should(Equal(int32(3)))
		Consistently(inFlight.Load, 100*time.Millisecond).Should(Equal(int32(3)))
		close(release)

		Eventually(func() int { return broker.Len(queue.Control) }).Should(BeZero())
		Expect(peak.Load()).To(Equal(int32(3)))
	})

	It("keeps consuming after a receive error", func() {
		transport := &receiveErrors{Transport: broker}
		transport.n.Store(2)
		c := queue.NewConsumer(transport, queue.Control, queue.HandlerFunc(func(context.Context, *queue.Delivery) queue.Outcome {
			return queue.Ack
		}), queue.WithErrorBackoff(10*time.Millisecond))
		send("m1")
		start(c)

		Eventually(func() int { return broker.Len(queue.Control) }).Should(BeZero())
	})

	It("stops when the transport is closed", func() {
		c := queue.NewConsumer(broker, queue.Control, queue.HandlerFunc(func(context.Context, *queue.Delivery) queue.Outcome {
			return queue.Ack
		}))
		done := start(c)

		Expect(broker.Close()).To(Succeed())
		Eventually(done).Should(Receive(MatchError(queue.ErrClosed)))
	})
})

var _ = Describe("outcome", func() {
	It("has a readable name", func() {
		Expect(queue.Ack.String()).To(Equal("ack"))
		Expect(queue.Retry.String()).To(Equal("retry"))
		Expect(queue.Outcome(7).String()).To(Equal("outcome(7)"))
	})
})

var _ = Describe("queue names", func() {
	It("resolves configured names", func() {
		names := queue.QueueNames{queue.Control: "control-queue"}
		Expect(names.Resolve(queue.Control)).To(Equal("control-queue"))
		Expect(names.Resolve(queue.Worker)).To(Equal("worker"))
	})
})
