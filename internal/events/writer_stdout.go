package events

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

// StdoutWriter is the writer used when no event broker is configured.
// Job completion events end up in the process log.
type StdoutWriter struct{}

func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{}
}

func (s *StdoutWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	zap.S().Named("job_events").Infow("job completed",
		"topic", topic,
		"event_type", e.Type(),
		"event_id", e.ID(),
		"payload", string(e.Data()),
	)
	return nil
}

func (s *StdoutWriter) Close(_ context.Context) error {
	return nil
}
