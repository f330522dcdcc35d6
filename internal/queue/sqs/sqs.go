// Package sqs implements the queue transport on Amazon SQS (or ElasticMQ).
// Headers travel as string message attributes and acknowledging deletes the
// message by receipt handle.
package sqs

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	attributeDataType       = "String"
	approximateReceiveCount = "ApproximateReceiveCount"

	// limits of ReceiveMessage, in seconds
	maxWaitTime          = 20
	maxVisibilityTimeout = 12 * 60 * 60
)

// API is the subset of the SQS client used by the transport.
type API interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type Transport struct {
	client     API
	names      queue.QueueNames
	visibility int32
	waitTime   int32

	mu     sync.Mutex
	urls   map[queue.Name]string
	closed bool
}

// Make sure we conform to Transport interface
var _ queue.Transport = (*Transport)(nil)

// NewClient builds an SQS client from the default AWS credential chain. A
// non empty endpoint points it at ElasticMQ or LocalStack.
func NewClient(ctx context.Context, region, endpoint string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws configuration")
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// New builds the transport. Durations are rounded up to whole seconds and
// clamped to the limits of ReceiveMessage, so a sub-second visibility timeout
// never becomes zero.
func New(client API, names queue.QueueNames, visibility, waitTime time.Duration) *Transport {
	return &Transport{
		client:     client,
		names:      names,
		visibility: toSeconds(visibility, maxVisibilityTimeout),
		waitTime:   toSeconds(waitTime, maxWaitTime),
		urls:       make(map[queue.Name]string),
	}
}

func (t *Transport) Send(ctx context.Context, name queue.Name, body []byte, headers queue.Headers) error {
	url, err := t.queueURL(ctx, name)
	if err != nil {
		return err
	}

	attributes := make(map[string]types.MessageAttributeValue, len(headers))
	for k, v := range headers {
		attributes[k] = types.MessageAttributeValue{
			DataType:    aws.String(attributeDataType),
			StringValue: aws.String(v),
		}
	}

	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(url),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attributes,
	})
	return errors.Wrapf(err, "failed to send message to %s", name)
}

func (t *Transport) Receive(ctx context.Context, name queue.Name) (*queue.Delivery, error) {
	url, err := t.queueURL(ctx, name)
	if err != nil {
		return nil, err
	}

	for {
		if t.isClosed() {
			return nil, queue.ErrClosed
		}

		out, err := t.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(url),
			MaxNumberOfMessages:   1,
			WaitTimeSeconds:       t.waitTime,
			VisibilityTimeout:     t.visibility,
			MessageAttributeNames: []string{"All"},
			AttributeNames:        []types.QueueAttributeName{types.QueueAttributeName(approximateReceiveCount)},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrapf(err, "failed to receive message from %s", name)
		}
		if len(out.Messages) == 0 {
			continue
		}

		return toDelivery(name, out.Messages[0]), nil
	}
}

func (t *Transport) Acknowledge(ctx context.Context, handle queue.AckHandle) error {
	url, err := t.queueURL(ctx, handle.Queue)
	if err != nil {
		return err
	}

	_, err = t.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(handle.Token),
	})
	return errors.Wrapf(err, "failed to delete message from %s", handle.Queue)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) queueURL(ctx context.Context, name queue.Name) (string, error) {
	t.mu.Lock()
	url, ok := t.urls[name]
	t.mu.Unlock()
	if ok {
		return url, nil
	}

	physical := t.names.Resolve(name)
	out, err := t.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(physical)})
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve queue url of %s", physical)
	}
	url = aws.ToString(out.QueueUrl)

	t.mu.Lock()
	t.urls[name] = url
	t.mu.Unlock()

	zap.S().Named("sqs").Debugw("resolved queue", "queue", physical, "url", url)
	return url, nil
}

func toDelivery(name queue.Name, msg types.Message) *queue.Delivery {
	headers := make(queue.Headers, len(msg.MessageAttributes))
	for k, v := range msg.MessageAttributes {
		headers[k] = aws.ToString(v.StringValue)
	}

	receiveCount, _ := strconv.Atoi(msg.Attributes[approximateReceiveCount])

	return &queue.Delivery{
		Body:         []byte(aws.ToString(msg.Body)),
		Headers:      headers,
		Handle:       queue.AckHandle{Queue: name, Token: aws.ToString(msg.ReceiptHandle)},
		ReceiveCount: receiveCount,
	}
}

func toSeconds(d time.Duration, limit int32) int32 {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	if secs > time.Duration(limit) {
		return limit
	}
	return int32(secs)
}
