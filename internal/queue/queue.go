package queue

import (
	"context"
	"errors"
)

// Name is the logical queue a message travels on. Transports map it to the
// physical queue configured for the deployment.
type Name string

const (
	Control Name = "control"
	Worker  Name = "worker"
)

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("transport closed")

// Headers are the message attributes carried next to the body.
type Headers map[string]string

func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[key]
}

// AckHandle identifies a received message to the transport that delivered
// it. Its token is opaque to callers: an SQS receipt handle, an AMQP
// delivery tag or a stream entry id.
type AckHandle struct {
	Queue Name
	Token string
}

// Delivery is one received message. It stays invisible to other consumers
// until it is acknowledged or its visibility timeout expires.
type Delivery struct {
	Body         []byte
	Headers      Headers
	Handle       AckHandle
	ReceiveCount int
}

// Transport is the broker abstraction shared by the orchestrator and the
// workers. Delivery is at-least-once and there is no requeue call: a message
// that is never acknowledged is redelivered after the visibility timeout.
type Transport interface {
	Send(ctx context.Context, queue Name, body []byte, headers Headers) error
	// Receive blocks until a message is available or ctx is done.
	Receive(ctx context.Context, queue Name) (*Delivery, error)
	// Acknowledge removes the message. Callers only acknowledge once the
	// side effects of the message are durable.
	Acknowledge(ctx context.Context, handle AckHandle) error
	Close() error
}

// QueueNames resolves logical queues to physical names.
type QueueNames map[Name]string

func (q QueueNames) Resolve(name Name) string {
	if physical, ok := q[name]; ok && physical != "" {
		return physical
	}
	return string(name)
}
