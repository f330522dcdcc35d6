package memory_test

import (
	"context"
	"sync"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/queue/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("memory broker", func() {
	var (
		broker *memory.Broker
		clock  *fakeClock
	)

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		broker = memory.New(30*time.Second, memory.WithClock(clock.Now))
	})

	AfterEach(func() {
		broker.Close()
	})

	receive := func(name queue.Name) (*queue.Delivery, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		return broker.Receive(ctx, name)
	}

	It("delivers in order with body and headers", func() {
		Expect(broker.Send(context.TODO(), queue.Worker, []byte("a"), queue.Headers{"job-id": "J1"})).To(Succeed())
		Expect(broker.Send(context.TODO(), queue.Worker, []byte("b"), nil)).To(Succeed())

		d, err := receive(queue.Worker)
		Expect(err).To(BeNil())
		Expect(d.Body).To(Equal([]byte("a")))
		Expect(d.Headers.Get("job-id")).To(Equal("J1"))
		Expect(d.ReceiveCount).To(Equal(1))
		Expect(d.Handle.Queue).To(Equal(queue.Worker))

		d, err = receive(queue.Worker)
		Expect(err).To(BeNil())
		Expect(d.Body).To(Equal([]byte("b")))
	})

	It("keeps queues apart", func() {
		Expect(broker.Send(context.TODO(), queue.Worker, []byte("task"), nil)).To(Succeed())

		_, err := receive(queue.Control)
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(broker.Len(queue.Worker)).To(Equal(1))
	})

	It("hides a received message until its visibility timeout", func() {
		Expect(broker.Send(context.TODO(), queue.Control, []byte("a"), nil)).To(Succeed())

		first, err := receive(queue.Control)
		Expect(err).To(BeNil())

		_, err = receive(queue.Control)
		Expect(err).To(MatchError(context.DeadlineExceeded))

		clock.Advance(31 * time.Second)
		second, err := receive(queue.Control)
		Expect(err).To(BeNil())
		Expect(second.Body).To(Equal([]byte("a")))
		Expect(second.ReceiveCount).To(Equal(2))
		Expect(second.Handle.Token).ToNot(Equal(first.Handle.Token))
	})

	It("removes an acknowledged message", func() {
		Expect(broker.Send(context.TODO(), queue.Control, []byte("a"), nil)).To(Succeed())

		d, err := receive(queue.Control)
		Expect(err).To(BeNil())
		Expect(broker.Acknowledge(context.TODO(), d.Handle)).To(Succeed())
		Expect(broker.Len(queue.Control)).To(BeZero())

		clock.Advance(time.Minute)
		_, err = receive(queue.Control)
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})

	It("rejects the handle of an earlier receive", func() {
		Expect(broker.Send(context.TODO(), queue.Control, []byte("a"), nil)).To(Succeed())

		first, err := receive(queue.Control)
		Expect(err).To(BeNil())
		broker.Expire(queue.Control)
		second, err := receive(queue.Control)
		Expect(err).To(BeNil())

		Expect(broker.Acknowledge(context.TODO(), first.Handle)).To(MatchError(memory.ErrUnknownHandle))
		Expect(broker.Acknowledge(context.TODO(), second.Handle)).To(Succeed())
	})

	It("wakes a blocked receiver on send", func() {
		got := make(chan *queue.Delivery, 1)
		go func() {
			defer GinkgoRecover()
			d, err := broker.Receive(context.Background(), queue.Worker)
			Expect(err).To(BeNil())
			got <- d
		}()

		time.Sleep(20 * time.Millisecond)
		Expect(broker.Send(context.TODO(), queue.Worker, []byte("late"), nil)).To(Succeed())
		Eventually(got).Should(Receive(WithTransform(func(d *queue.Delivery) string { return string(d.Body) }, Equal("late"))))
	})

	It("does not share buffers with the sender", func() {
		body := []byte("abc")
		headers := queue.Headers{"k": "v"}
		Expect(broker.Send(context.TODO(), queue.Worker, body, headers)).To(Succeed())
		body[0] = 'x'
		headers["k"] = "changed"

		d, err := receive(queue.Worker)
		Expect(err).To(BeNil())
		Expect(string(d.Body)).To(Equal("abc"))
		Expect(d.Headers.Get("k")).To(Equal("v"))
	})

	It("fails after close", func() {
		blocked := make(chan error, 1)
		go func() {
			_, err := broker.Receive(context.Background(), queue.Control)
			blocked <- err
		}()

		time.Sleep(20 * time.Millisecond)
		Expect(broker.Close()).To(Succeed())
		Eventually(blocked).Should(Receive(MatchError(queue.ErrClosed)))

		Expect(broker.Send(context.TODO(), queue.Control, []byte("a"), nil)).To(MatchError(queue.ErrClosed))
		_, err := broker.Receive(context.TODO(), queue.Control)
		Expect(err).To(MatchError(queue.ErrClosed))
		Expect(broker.Close()).To(Succeed())
	})
})
