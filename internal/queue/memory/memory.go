// Package memory is an in-process broker with SQS-like semantics: received
// messages stay invisible for the visibility timeout and are redelivered
// unless acknowledged with the handle of their latest receive.
package memory

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/google/uuid"
)

var ErrUnknownHandle = errors.New("unknown or expired ack handle")

type entry struct {
	body           []byte
	headers        queue.Headers
	token          string
	receiveCount   int
	invisibleUntil time.Time
}

type Broker struct {
	mu         sync.Mutex
	visibility time.Duration
	queues     map[queue.Name][]*entry
	wake       chan struct{}
	closed     bool
	now        func() time.Time
}

// Make sure we conform to Transport interface
var _ queue.Transport = (*Broker)(nil)

type Option func(b *Broker)

// WithClock replaces time.Now, for tests that expire visibility timeouts.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

func New(visibility time.Duration, opts ...Option) *Broker {
	b := &Broker{
		visibility: visibility,
		queues:     make(map[queue.Name][]*entry),
		wake:       make(chan struct{}),
		now:        time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Broker) Send(ctx context.Context, name queue.Name, body []byte, headers queue.Headers) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return queue.ErrClosed
	}

	b.queues[name] = append(b.queues[name], &entry{
		body:    append([]byte(nil), body...),
		headers: maps.Clone(headers),
	})
	b.broadcast()
	return nil
}

func (b *Broker) Receive(ctx context.Context, name queue.Name) (*queue.Delivery, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, queue.ErrClosed
		}

		now := b.now()
		var next time.Time
		for _, e := range b.queues[name] {
			if !e.invisibleUntil.After(now) {
				e.token = uuid.NewString()
				e.receiveCount++
				e.invisibleUntil = now.Add(b.visibility)
				d := &queue.Delivery{
					Body:         append([]byte(nil), e.body...),
					Headers:      maps.Clone(e.headers),
					Handle:       queue.AckHandle{Queue: name, Token: e.token},
					ReceiveCount: e.receiveCount,
				}
				b.mu.Unlock()
				return d, nil
			}
			if next.IsZero() || e.invisibleUntil.Before(next) {
				next = e.invisibleUntil
			}
		}
		wake := b.wake
		b.mu.Unlock()

		if err := waitFor(ctx, wake, next, now); err != nil {
			return nil, err
		}
	}
}

func (b *Broker) Acknowledge(ctx context.Context, handle queue.AckHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.queues[handle.Queue]
	for i, e := range entries {
		if e.token != "" && e.token == handle.Token {
			b.queues[handle.Queue] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return ErrUnknownHandle
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.wake)
	}
	return nil
}

// Len returns the number of messages in the queue, visible or not.
func (b *Broker) Len(name queue.Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[name])
}

// Expire makes every in-flight message of the queue visible again, as if its
// visibility timeout had elapsed.
func (b *Broker) Expire(name queue.Name) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.queues[name] {
		e.invisibleUntil = time.Time{}
	}
	b.broadcast()
}

func waitFor(ctx context.Context, wake <-chan struct{}, next, now time.Time) error {
	var timer <-chan time.Time
	if !next.IsZero() {
		t := time.NewTimer(next.Sub(now))
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-timer:
	}
	return nil
}

func (b *Broker) broadcast() {
	if b.closed {
		return
	}
	close(b.wake)
	b.wake = make(chan struct{})
}
