package events

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned by Write when the producer holds more pending events than its capacity.
var ErrBufferFull = errors.New("event buffer is full")

type message struct {
	Kind string
	Data []byte
}

// buffer is a bounded FIFO of events waiting for the writer.
// A capacity of zero or less means unbounded.
type buffer struct {
	lock     sync.Mutex
	pending  []*message
	capacity int
}

func newBuffer(capacity int) *buffer {
	return &buffer{capacity: capacity}
}

func (b *buffer) PushBack(msg *message) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.capacity > 0 && len(b.pending) >= b.capacity {
		return ErrBufferFull
	}
	b.pending = append(b.pending, msg)
	return nil
}

func (b *buffer) Pop() *message {
	b.lock.Lock()
	defer b.lock.Unlock()

	if len(b.pending) == 0 {
		return nil
	}
	msg := b.pending[0]
	b.pending[0] = nil
	b.pending = b.pending[1:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return msg
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.pending)
}
