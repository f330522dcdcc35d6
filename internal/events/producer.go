package events

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	JobFinishedKind string = "orchestrator.job.finished"
	JobFailedKind   string = "orchestrator.job.failed"
	defaultTopic    string = "orchestrator.jobs"
	eventSource     string = "orchestrator-worker-poc/orchestrator"

	defaultBufferSize   = 1024
	defaultCloseTimeout = 5 * time.Second
)

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer publishes job completion events through a Writer.
// Events are queued and written from a background goroutine so the orchestrator never waits on the writer.
type EventProducer struct {
	buffer       *buffer
	wakeCh       chan struct{}
	doneCh       chan struct{}
	stoppedCh    chan struct{}
	closeOnce    sync.Once
	closeTimeout time.Duration
	writer       Writer
	topic        string
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer:       newBuffer(defaultBufferSize),
		wakeCh:       make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
		closeTimeout: defaultCloseTimeout,
		writer:       w,
		topic:        defaultTopic,
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

// Write queues an event of the given kind. It returns ErrBufferFull when the writer has fallen behind.
func (ep *EventProducer) Write(_ context.Context, kind string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading %s event: %w", kind, err)
	}
	if err := ep.buffer.PushBack(&message{Kind: kind, Data: data}); err != nil {
		return err
	}

	select {
	case ep.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Close flushes the buffer and closes the writer, waiting at most the close
// timeout. Only the first call has an effect.
func (ep *EventProducer) Close() error {
	var err error
	ep.closeOnce.Do(func() {
		log := zap.S().Named("event_producer")
		ctx, cancel := context.WithTimeout(context.Background(), ep.closeTimeout)
		defer cancel()

		close(ep.doneCh)
		select {
		case <-ep.stoppedCh:
			err = ep.writer.Close(ctx)
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			log.Errorw("event producer closed with error", "pending", ep.buffer.Size(), "error", err)
			return
		}
		log.Info("event producer closed")
	})
	return err
}

func (ep *EventProducer) run() {
	defer close(ep.stoppedCh)

	for {
		ep.flush()
		select {
		case <-ep.wakeCh:
		case <-ep.doneCh:
			ep.flush()
			return
		}
	}
}

func (ep *EventProducer) flush() {
	for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
		e := newCloudEvent(msg)
		if err := ep.writer.Write(context.Background(), ep.topic, e); err != nil {
			zap.S().Named("event_producer").Errorw("failed to write event", "type", e.Type(), "id", e.ID(), "error", err)
		}
	}
}

func newCloudEvent(msg *message) cloudevents.Event {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(eventSource)
	e.SetType(msg.Kind)
	e.SetTime(time.Now())
	_ = e.SetData(cloudevents.ApplicationJSON, msg.Data)
	return e
}
