// Package redisstream implements the queue transport on Redis Streams with a
// consumer group per stream. Entries that stay pending longer than the
// visibility timeout are claimed by the next receiver.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldBody    = "body"
	fieldHeaders = "headers"
)

type Transport struct {
	client     redis.UniversalClient
	names      queue.QueueNames
	group      string
	consumer   string
	visibility time.Duration
	block      time.Duration

	mu      sync.Mutex
	ensured map[queue.Name]bool
	closed  bool
}

// Make sure we conform to Transport interface
var _ queue.Transport = (*Transport)(nil)

func New(client redis.UniversalClient, names queue.QueueNames, group string, visibility time.Duration) *Transport {
	return &Transport{
		client:     client,
		names:      names,
		group:      group,
		consumer:   uuid.NewString(),
		visibility: visibility,
		block:      5 * time.Second,
		ensured:    make(map[queue.Name]bool),
	}
}

func (t *Transport) Send(ctx context.Context, name queue.Name, body []byte, headers queue.Headers) error {
	if t.isClosed() {
		return queue.ErrClosed
	}

	encoded, err := json.Marshal(headers)
	if err != nil {
		return err
	}

	return t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.names.Resolve(name),
		Values: map[string]any{
			fieldBody:    body,
			fieldHeaders: encoded,
		},
	}).Err()
}

func (t *Transport) Receive(ctx context.Context, name queue.Name) (*queue.Delivery, error) {
	if err := t.ensureGroup(ctx, name); err != nil {
		return nil, err
	}
	stream := t.names.Resolve(name)

	for {
		if t.isClosed() {
			return nil, queue.ErrClosed
		}

		// redeliver entries whose previous receiver did not acknowledge in time
		claimed, _, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    t.group,
			Consumer: t.consumer,
			MinIdle:  t.visibility,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil {
			return nil, err
		}
		if len(claimed) > 0 {
			return t.toDelivery(ctx, name, claimed[0])
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.group,
			Consumer: t.consumer,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    t.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, s := range streams {
			if len(s.Messages) > 0 {
				return t.toDelivery(ctx, name, s.Messages[0])
			}
		}
	}
}

func (t *Transport) Acknowledge(ctx context.Context, handle queue.AckHandle) error {
	stream := t.names.Resolve(handle.Queue)

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, stream, t.group, handle.Token)
		pipe.XDel(ctx, stream, handle.Token)
		return nil
	})
	return err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.client.Close()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) ensureGroup(ctx context.Context, name queue.Name) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ensured[name] {
		return nil
	}

	err := t.client.XGroupCreateMkStream(ctx, t.names.Resolve(name), t.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	t.ensured[name] = true
	zap.S().Named("redis_stream").Infow("consumer group ready", "stream", t.names.Resolve(name), "group", t.group)
	return nil
}

func (t *Transport) toDelivery(ctx context.Context, name queue.Name, msg redis.XMessage) (*queue.Delivery, error) {
	d := &queue.Delivery{
		Headers: queue.Headers{},
		Handle:  queue.AckHandle{Queue: name, Token: msg.ID},
	}

	if body, ok := msg.Values[fieldBody].(string); ok {
		d.Body = []byte(body)
	}
	if raw, ok := msg.Values[fieldHeaders].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.Headers); err != nil {
			zap.S().Named("redis_stream").Warnw("dropping unreadable headers", "id", msg.ID, "error", err)
		}
	}

	pending, err := t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: t.names.Resolve(name),
		Group:  t.group,
		Start:  msg.ID,
		End:    msg.ID,
		Count:  1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		d.ReceiveCount = int(pending[0].RetryCount)
	}
	return d, nil
}
