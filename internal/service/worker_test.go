package service_test

import (
	"context"
	"errors"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/message"
	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/queue/memory"
	"github.com/claboran/orchestrator-worker-poc/internal/service"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("worker", func() {
	var (
		broker  *memory.Broker
		payload message.WorkerJobPayload
	)

	BeforeEach(func() {
		broker = memory.New(time.Minute)
		payload = message.WorkerJobPayload{
			JobID:  "J1",
			PageID: uuid.NewString(),
			Data:   model.PageData{ItemIDs: []uuid.UUID{uuid.New(), uuid.New()}},
		}
	})

	AfterEach(func() {
		broker.Close()
	})

	reports := func() []message.PageDone {
		var out []message.PageDone
		for _, d := range drain(broker, queue.Control) {
			m, err := message.Decode(d.Body, d.Headers)
			Expect(err).To(BeNil())
			done, ok := m.(message.PageDone)
			Expect(ok).To(BeTrue())
			Expect(d.Headers.Get(message.HeaderJobID)).To(Equal(done.JobID))
			Expect(d.Headers.Get(message.HeaderPageID)).To(Equal(done.PageID))
			out = append(out, done)
		}
		return out
	}

	It("reports a finished page", func() {
		var got message.WorkerJobPayload
		w := service.NewWorker(broker, func(_ context.Context, p message.WorkerJobPayload) error {
			got = p
			return nil
		})

		Expect(w.Handle(context.TODO(), taskDelivery(payload))).To(Equal(queue.Ack))
		Expect(got).To(Equal(payload))

		done := reports()
		Expect(done).To(HaveLen(1))
		Expect(done[0].JobID).To(Equal("J1"))
		Expect(done[0].PageID).To(Equal(payload.PageID))
		Expect(done[0].Status).To(Equal(model.PageStatusFinished))
		Expect(done[0].ErrorMessage).To(BeNil())
	})

	It("runs LogPerform by default", func() {
		w := service.NewWorker(broker, nil)

		Expect(w.Handle(context.TODO(), taskDelivery(payload))).To(Equal(queue.Ack))
		done := reports()
		Expect(done).To(HaveLen(1))
		Expect(done[0].Status).To(Equal(model.PageStatusFinished))
	})

	It("reports a failed page and acknowledges the task", func() {
		w := service.NewWorker(broker, func(context.Context, message.WorkerJobPayload) error {
			return errors.New("item 3 rejected")
		})

		Expect(w.Handle(context.TODO(), taskDelivery(payload))).To(Equal(queue.Ack))

		done := reports()
		Expect(done).To(HaveLen(1))
		Expect(done[0].Status).To(Equal(model.PageStatusFailed))
		Expect(done[0].ErrorMessage).ToNot(BeNil())
		Expect(*done[0].ErrorMessage).To(Equal("item 3 rejected"))
	})

	It("reports a panic as a failed page", func() {
		w := service.NewWorker(broker, func(context.Context, message.WorkerJobPayload) error {
			panic("nil item")
		})

		Expect(w.Handle(context.TODO(), taskDelivery(payload))).To(Equal(queue.Ack))

		done := reports()
		Expect(done).To(HaveLen(1))
		Expect(done[0].Status).To(Equal(model.PageStatusFailed))
		Expect(*done[0].ErrorMessage).To(ContainSubstring("nil item"))
	})

	It("drops a task whose headers disagree with the body", func() {
		called := false
		w := service.NewWorker(broker, func(context.Context, message.WorkerJobPayload) error {
			called = true
			return nil
		})

		d := taskDelivery(payload)
		d.Headers[message.HeaderPageID] = uuid.NewString()
		Expect(w.Handle(context.TODO(), d)).To(Equal(queue.Ack))
		Expect(called).To(BeFalse())
		Expect(reports()).To(BeEmpty())
	})

	It("drops an undecodable task", func() {
		w := service.NewWorker(broker, nil)
		d := &queue.Delivery{Body: []byte("not json"), Headers: queue.Headers{}}
		Expect(w.Handle(context.TODO(), d)).To(Equal(queue.Ack))
		Expect(reports()).To(BeEmpty())
	})

	It("keeps the task when the report cannot be sent", func() {
		transport := &flakyTransport{Transport: broker}
		transport.sendFailures.Store(1)
		runs := 0
		w := service.NewWorker(transport, func(context.Context, message.WorkerJobPayload) error {
			runs++
			return nil
		})

		d := taskDelivery(payload)
		Expect(w.Handle(context.TODO(), d)).To(Equal(queue.Retry))
		Expect(reports()).To(BeEmpty())

		// redelivery performs the work again and reports once
		Expect(w.Handle(context.TODO(), d)).To(Equal(queue.Ack))
		Expect(runs).To(Equal(2))
		Expect(reports()).To(HaveLen(1))
	})
})
