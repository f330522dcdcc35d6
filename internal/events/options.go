package events

import "time"

type ProducerOptions func(e *EventProducer)

// WithOutputTopic sets the topic passed to the writer for every event.
func WithOutputTopic(topic string) ProducerOptions {
	return func(e *EventProducer) {
		e.topic = topic
	}
}

// WithBufferSize caps the number of events waiting for the writer.
func WithBufferSize(size int) ProducerOptions {
	return func(e *EventProducer) {
		e.buffer = newBuffer(size)
	}
}

// WithCloseTimeout bounds how long Close waits for pending events to be flushed.
func WithCloseTimeout(d time.Duration) ProducerOptions {
	return func(e *EventProducer) {
		if d > 0 {
			e.closeTimeout = d
		}
	}
}
