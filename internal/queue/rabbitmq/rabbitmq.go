// Package rabbitmq implements the queue transport on RabbitMQ with manual
// acknowledgements. RabbitMQ has no visibility timeout, so the transport
// keeps a timer per unacknowledged delivery and requeues it with a Nack once
// the visibility timeout passes. A closed channel requeues its deliveries too.
package rabbitmq

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveryExpired is returned by Acknowledge for a delivery that was
// already requeued because its visibility timeout passed.
var ErrDeliveryExpired = errors.New("delivery visibility timeout expired")

// channel is the part of *amqp.Channel used to settle deliveries.
type channel interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
}

type consumer struct {
	ch         channel
	deliveries <-chan amqp.Delivery
	visibility time.Duration

	mu       sync.Mutex
	inFlight map[uint64]*time.Timer
}

func newConsumer(ch channel, deliveries <-chan amqp.Delivery, visibility time.Duration) *consumer {
	return &consumer{
		ch:         ch,
		deliveries: deliveries,
		visibility: visibility,
		inFlight:   make(map[uint64]*time.Timer),
	}
}

// track arms the visibility timer of a received delivery.
func (c *consumer) track(tag uint64) {
	if c.visibility <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[tag] = time.AfterFunc(c.visibility, func() { c.expire(tag) })
}

func (c *consumer) expire(tag uint64) {
	c.mu.Lock()
	_, ok := c.inFlight[tag]
	delete(c.inFlight, tag)
	c.mu.Unlock()
	if !ok {
		return
	}

	log := zap.S().Named("rabbitmq")
	if err := c.ch.Nack(tag, false, true); err != nil {
		log.Errorw("failed to requeue expired delivery", "delivery_tag", tag, "error", err)
		return
	}
	log.Debugw("requeued delivery after visibility timeout", "delivery_tag", tag)
}

func (c *consumer) ack(tag uint64) error {
	if c.visibility > 0 {
		c.mu.Lock()
		timer, ok := c.inFlight[tag]
		delete(c.inFlight, tag)
		c.mu.Unlock()
		if !ok {
			// acking a requeued tag would close the channel
			return fmt.Errorf("delivery %d: %w", tag, ErrDeliveryExpired)
		}
		timer.Stop()
	}
	return c.ch.Ack(tag, false)
}

// stop disarms every pending timer. The broker requeues the deliveries when
// the channel closes.
func (c *consumer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for tag, timer := range c.inFlight {
		timer.Stop()
		delete(c.inFlight, tag)
	}
}

type Transport struct {
	conn       *amqp.Connection
	names      queue.QueueNames
	prefetch   int
	visibility time.Duration

	mu        sync.Mutex
	publishCh *amqp.Channel
	consumers map[queue.Name]*consumer
}

// Make sure we conform to Transport interface
var _ queue.Transport = (*Transport)(nil)

// Dial connects to the broker and declares the durable queues. Deliveries not
// acknowledged within visibility are requeued.
func Dial(url string, names queue.QueueNames, prefetch int, visibility time.Duration) (*Transport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to rabbitmq")
	}

	t := &Transport{
		conn:       conn,
		names:      names,
		prefetch:   prefetch,
		visibility: visibility,
		consumers:  make(map[queue.Name]*consumer),
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to open channel")
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to enable publisher confirms")
	}
	t.publishCh = ch

	for _, name := range []queue.Name{queue.Control, queue.Worker} {
		if _, err := ch.QueueDeclare(
			names.Resolve(name), // queue name
			true,                // durable
			false,               // delete when unused
			false,               // exclusive
			false,               // no-wait
			nil,                 // arguments
		); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}

	return t, nil
}

func (t *Transport) Send(ctx context.Context, name queue.Name, body []byte, headers queue.Headers) error {
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn.IsClosed() {
		return queue.ErrClosed
	}

	confirmation, err := t.publishCh.PublishWithDeferredConfirmWithContext(ctx,
		"",                    // default exchange
		t.names.Resolve(name), // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  headers.Get("Content-Type"),
			DeliveryMode: amqp.Persistent,
			Headers:      table,
			Body:         body,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to publish to %s", name)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to confirm publish to %s", name)
	}
	if !acked {
		return fmt.Errorf("broker rejected message for %s", name)
	}
	return nil
}

func (t *Transport) Receive(ctx context.Context, name queue.Name) (*queue.Delivery, error) {
	c, err := t.consumer(name)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-c.deliveries:
		if !ok {
			return nil, queue.ErrClosed
		}
		c.track(d.DeliveryTag)
		return toDelivery(name, d), nil
	}
}

func (t *Transport) Acknowledge(ctx context.Context, handle queue.AckHandle) error {
	tag, err := strconv.ParseUint(handle.Token, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid delivery tag %q: %w", handle.Token, err)
	}

	t.mu.Lock()
	c, ok := t.consumers[handle.Queue]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("no consumer for queue %s", handle.Queue)
	}

	return errors.Wrapf(c.ack(tag), "failed to ack delivery %d on %s", tag, handle.Queue)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.consumers {
		c.stop()
	}
	if t.conn.IsClosed() {
		return nil
	}
	return t.conn.Close()
}

func (t *Transport) consumer(name queue.Name) (*consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.consumers[name]; ok {
		return c, nil
	}
	if t.conn.IsClosed() {
		return nil, queue.ErrClosed
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open consumer channel")
	}
	if err := ch.Qos(t.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "failed to set qos")
	}

	deliveries, err := ch.Consume(
		t.names.Resolve(name), // queue
		"",                    // consumer tag
		false,                 // auto-ack
		false,                 // exclusive
		false,                 // no-local
		false,                 // no-wait
		nil,                   // args
	)
	if err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "failed to consume %s", name)
	}

	c := newConsumer(ch, deliveries, t.visibility)
	t.consumers[name] = c
	zap.S().Named("rabbitmq").Infow("consuming queue", "queue", t.names.Resolve(name), "prefetch", t.prefetch, "visibility_timeout", t.visibility)
	return c, nil
}

func toDelivery(name queue.Name, d amqp.Delivery) *queue.Delivery {
	headers := make(queue.Headers, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}

	receiveCount := 1
	if d.Redelivered {
		receiveCount = 2
	}
	if count, ok := d.Headers["x-delivery-count"].(int64); ok {
		receiveCount = int(count) + 1
	}

	return &queue.Delivery{
		Body:         d.Body,
		Headers:      headers,
		Handle:       queue.AckHandle{Queue: name, Token: strconv.FormatUint(d.DeliveryTag, 10)},
		ReceiveCount: receiveCount,
	}
}
