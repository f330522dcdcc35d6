package service

import (
	"context"

	"github.com/claboran/orchestrator-worker-poc/internal/message"
	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"go.uber.org/zap"
)

// PerformFunc executes the unit of work of one page. A returned error is
// reported to the orchestrator as a FAILED page.
type PerformFunc func(ctx context.Context, payload message.WorkerJobPayload) error

// LogPerform logs the items of the page and succeeds.
func LogPerform(ctx context.Context, payload message.WorkerJobPayload) error {
	log := zap.S().Named("worker")
	log.Infow("processing page", "job_id", payload.JobID, "page_id", payload.PageID, "items", len(payload.Data.ItemIDs))
	for _, id := range payload.Data.ItemIDs {
		log.Debugw("processing item", "job_id", payload.JobID, "page_id", payload.PageID, "item_id", id)
	}
	return nil
}

// Worker consumes page tasks and reports exactly one PageDone per task it
// processes.
type Worker struct {
	transport queue.Transport
	perform   PerformFunc
	log       *zap.SugaredLogger
}

// Make sure we conform to Handler interface
var _ queue.Handler = (*Worker)(nil)

// NewWorker returns a worker running perform on every task, LogPerform when
// perform is nil.
func NewWorker(t queue.Transport, perform PerformFunc) *Worker {
	if perform == nil {
		perform = LogPerform
	}
	return &Worker{
		transport: t,
		perform:   perform,
		log:       zap.S().Named("worker"),
	}
}

func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) queue.Outcome {
	payload, err := message.DecodeTask(d.Body, d.Headers)
	if err != nil {
		w.log.Errorw("dropping invalid task", "error", err, "headers", d.Headers, "poison", message.IsPoison(err))
		return queue.Ack
	}

	workErr := w.run(ctx, payload)
	if workErr != nil {
		w.log.Warnw("page failed", "job_id", payload.JobID, "page_id", payload.PageID, "error", workErr)
	}

	if err := w.report(ctx, message.NewPageDone(payload.JobID, payload.PageID, workErr)); err != nil {
		w.log.Errorw("failed to report page, task left for redelivery", "job_id", payload.JobID, "page_id", payload.PageID, "error", err)
		return queue.Retry
	}
	return queue.Ack
}

// run calls perform and turns a panic into a work failure.
func (w *Worker) run(ctx context.Context, payload message.WorkerJobPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewErrWorkFailure(payload.PageID, r)
		}
	}()

	return w.perform(ctx, payload)
}

func (w *Worker) report(ctx context.Context, done message.PageDone) error {
	body, headers, err := message.Encode(done)
	if err != nil {
		return err
	}
	if err := w.transport.Send(ctx, queue.Control, body, headers); err != nil {
		return NewErrDispatch(string(queue.Control), err)
	}
	w.log.Debugw("page reported", "job_id", done.JobID, "page_id", done.PageID, "status", done.Status)
	return nil
}
