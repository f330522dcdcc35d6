package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/events"
	"github.com/claboran/orchestrator-worker-poc/internal/message"
	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"github.com/claboran/orchestrator-worker-poc/pkg/metrics"
	"go.uber.org/zap"
)

// EventWriter receives job lifecycle events. It is satisfied by
// *events.EventProducer.
type EventWriter interface {
	Write(ctx context.Context, kind string, body io.Reader) error
}

// Orchestrator drives the job state machine from the control queue: it fans
// a StartJob out into page tasks and folds PageDone reports back into the job
// status.
type Orchestrator struct {
	store     store.Store
	generator *PageGenerator
	transport queue.Transport
	events    EventWriter
	log       *zap.SugaredLogger
}

// Make sure we conform to Handler interface
var _ queue.Handler = (*Orchestrator)(nil)

// NewOrchestrator returns an orchestrator. A nil EventWriter disables job
// lifecycle events.
func NewOrchestrator(s store.Store, g *PageGenerator, t queue.Transport, w EventWriter) *Orchestrator {
	return &Orchestrator{
		store:     s,
		generator: g,
		transport: t,
		events:    w,
		log:       zap.S().Named("orchestrator"),
	}
}

func (o *Orchestrator) Handle(ctx context.Context, d *queue.Delivery) queue.Outcome {
	msg, err := message.Decode(d.Body, d.Headers)
	if err != nil {
		o.log.Errorw("dropping undecodable control message", "error", err, "headers", d.Headers, "receive_count", d.ReceiveCount)
		return queue.Ack
	}

	switch m := msg.(type) {
	case message.StartJob:
		err = o.StartJob(ctx, m)
	case message.PageDone:
		err = o.PageDone(ctx, m)
	}

	var notFound *ErrResourceNotFound
	switch {
	case err == nil:
		return queue.Ack
	case errors.As(err, &notFound):
		o.log.Errorw("dropping stale control message", "kind", msg.Kind(), "job_id", msg.JobKey(), "error", err)
		return queue.Ack
	default:
		o.log.Errorw("control message left for redelivery", "kind", msg.Kind(), "job_id", msg.JobKey(), "receive_count", d.ReceiveCount, "error", err)
		return queue.Retry
	}
}

// StartJob creates the job with its pages and sends one task per page. A job
// that already exists is a duplicate delivery, unless its tasks were never
// recorded as sent. Then the tasks of its pages that are not terminal yet are
// sent again; a completed job gets nothing.
func (o *Orchestrator) StartJob(ctx context.Context, m message.StartJob) error {
	job, created, err := o.createJob(ctx, m.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	if !created {
		switch {
		case job.Dispatched():
			o.log.Infow("job already started, ignoring duplicate", "job_id", m.JobID)
			return nil
		case job.Status.IsTerminal():
			o.log.Infow("job already completed, ignoring duplicate", "job_id", m.JobID, "status", job.Status)
			return nil
		}
		o.log.Warnw("job exists but was not dispatched, sending its pending tasks again", "job_id", m.JobID)
	} else {
		o.log.Infow("job created", "job_id", job.ID, "pages", len(job.Pages))
	}

	return o.dispatch(ctx, job)
}

// createJob returns the job and whether this call created it. The job is nil
// when a concurrent delivery of the same StartJob created it first; that
// delivery owns the dispatch.
func (o *Orchestrator) createJob(ctx context.Context, jobID string) (*model.Job, bool, error) {
	ctx, err := o.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, false, NewErrPersistence("opening transaction", err)
	}
	defer func() {
		_, _ = store.Rollback(ctx)
	}()

	job, err := o.store.Job().Get(ctx, jobID)
	switch {
	case err == nil:
		return job, false, nil
	case !errors.Is(err, store.ErrRecordNotFound):
		return nil, false, NewErrPersistence("loading job", err)
	}

	job, err = o.generator.GenerateForJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			o.log.Infow("job created concurrently, ignoring duplicate", "job_id", jobID)
			return nil, false, nil
		}
		return nil, false, err
	}

	if _, err := store.Commit(ctx); err != nil {
		return nil, false, NewErrPersistence("committing job", err)
	}
	return job, true, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, job *model.Job) error {
	sent := 0
	for _, page := range job.Pages {
		if page.Status.IsTerminal() {
			continue
		}
		body, headers, err := message.EncodeTask(message.WorkerJobPayload{
			JobID:  job.ID,
			PageID: page.ID,
			Data:   page.Data.Data(),
		})
		if err != nil {
			return err
		}
		if err := o.transport.Send(ctx, queue.Worker, body, headers); err != nil {
			return NewErrDispatch(string(queue.Worker), err)
		}
		o.log.Debugw("task sent", "job_id", job.ID, "page_id", page.ID)
		sent++
	}
	metrics.AddPagesDispatchedMetric(sent)

	if err := o.store.Job().MarkDispatched(ctx, job.ID); err != nil {
		return NewErrPersistence("marking job dispatched", err)
	}
	return nil
}

// PageDone records the outcome of a page and recomputes the job status. The
// job row stays locked from the page read to the commit, so concurrent reports
// for the same job are applied one after the other and the last one sees every
// sibling page terminal.
func (o *Orchestrator) PageDone(ctx context.Context, m message.PageDone) error {
	ctx, err := o.store.NewTransactionContext(ctx)
	if err != nil {
		return NewErrPersistence("opening transaction", err)
	}
	defer func() {
		_, _ = store.Rollback(ctx)
	}()

	job, err := o.store.Job().GetForUpdate(ctx, m.JobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrJobNotFound(m.JobID)
		}
		return NewErrPersistence("locking job", err)
	}

	page, err := o.store.Page().Get(ctx, m.PageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrPageNotFound(m.PageID)
		}
		return NewErrPersistence("loading page", err)
	}
	if page.JobID != m.JobID {
		return NewErrPageNotInJob(m.PageID, m.JobID)
	}

	if !page.Status.CanTransitionTo(m.Status) {
		o.log.Infow("page already completed, ignoring duplicate", "job_id", m.JobID, "page_id", m.PageID, "status", page.Status, "reported", m.Status)
		return nil
	}

	page.Status = m.Status
	page.ErrorMessage = nil
	if m.Status == model.PageStatusFailed {
		page.ErrorMessage = m.ErrorMessage
		o.log.Warnw("page failed", "job_id", m.JobID, "page_id", m.PageID, "error", valueOf(m.ErrorMessage))
	}
	if _, err := o.store.Page().Update(ctx, *page); err != nil {
		return NewErrPersistence("saving page", err)
	}

	pages, err := o.store.Page().ListByJob(ctx, m.JobID)
	if err != nil {
		return NewErrPersistence("loading pages", err)
	}

	previous := job.Status
	job.Status = AggregateJobStatus(pages)
	if job.Status != previous {
		if err := o.store.Job().UpdateStatus(ctx, job.ID, job.Status); err != nil {
			return NewErrPersistence("saving job", err)
		}
	}

	if _, err := store.Commit(ctx); err != nil {
		return NewErrPersistence("committing page", err)
	}

	metrics.IncreasePagesCompletedMetric(string(m.Status))
	o.log.Debugw("page completed", "job_id", m.JobID, "page_id", m.PageID, "status", m.Status, "job_status", job.Status)

	if job.Status.IsTerminal() && !previous.IsTerminal() {
		metrics.IncreaseJobsCompletedMetric(string(job.Status))
		o.log.Infow("job completed", "job_id", job.ID, "status", job.Status)
		o.publish(ctx, job, pages)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, job *model.Job, pages model.PageList) {
	if o.events == nil {
		return
	}

	ev := events.JobCompletedEvent{
		JobID:       job.ID,
		Status:      string(job.Status),
		PagesTotal:  len(pages),
		CompletedAt: time.Now(),
	}
	kind := events.JobFinishedKind
	if job.Status == model.JobStatusFailed {
		kind = events.JobFailedKind
		ev.PageErrors = make(map[string]string)
		for _, p := range pages {
			if p.Status != model.PageStatusFailed {
				continue
			}
			ev.PagesFailed++
			if p.ErrorMessage != nil {
				ev.PageErrors[p.ID] = *p.ErrorMessage
			}
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		o.log.Errorw("failed to marshal job event", "job_id", job.ID, "error", err)
		return
	}
	if err := o.events.Write(ctx, kind, bytes.NewReader(data)); err != nil {
		o.log.Errorw("failed to publish job event", "job_id", job.ID, "error", err)
	}
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
