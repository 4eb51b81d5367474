package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/compactmgr/engine/types"
)

// sqsClient is the subset of the SQS client the [Consumer] depends on.
type sqsClient interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer reads message batches from an SQS queue and hands each record to
// a caller-supplied handler independently. A handler error (or panic) marks
// exactly that record as failed; the rest of the batch continues. Only
// successfully processed messages are deleted, so the queue redelivers
// precisely the failed subset.
//
// Create a Consumer with [New], then call [Consumer.Init] once before any
// other method. Init is not thread-safe; all other methods are safe for
// concurrent use after Init returns.
type Consumer struct {
	client      sqsClient
	queueName   string
	queueURL    string
	awsCfg      *aws.Config
	opts        *Options
	logger      types.Logger
	initialized bool
}

// New creates a Consumer for the named SQS queue. Functional options may be
// passed to override defaults (see With* functions). The logger is enriched
// with "plugin" and "queue_name" fields.
//
// New does not connect to AWS. Call [Consumer.Init] to resolve the queue URL.
func New(awsCfg *aws.Config, queueName string, logger types.Logger, opts ...Option) *Consumer {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	logger = logger.
		WithField("plugin", "sqs").
		WithField("queue_name", queueName)

	return &Consumer{
		awsCfg:    awsCfg,
		queueName: queueName,
		opts:      options,
		logger:    logger,
	}
}

// Init initializes the Consumer: validates options and resolves the queue
// URL via GetQueueUrl. It returns the receiver so that initialization can be
// chained with [New]:
//
//	consumer, err := sqs.New(&awsCfg, "license-events", logger).Init(ctx)
//
// Init is idempotent; subsequent calls on an already-initialized Consumer
// are no-ops. It is not thread-safe and must complete before any concurrent
// access.
func (c *Consumer) Init(ctx context.Context) (*Consumer, error) {
	if c.initialized {
		return c, nil
	}

	if err := c.opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid SQS options: %w", err)
	}

	// Use injected client if provided (for testing), otherwise create real client
	if c.opts.sqsClient != nil {
		c.client = c.opts.sqsClient
	} else {
		c.client = sqs.NewFromConfig(*c.awsCfg, func(o *sqs.Options) {
			o.Retryer = retry.AddWithMaxBackoffDelay(o.Retryer, c.opts.sqsAPIMaxRetryBackoffDelay)
			o.Retryer = retry.AddWithMaxAttempts(o.Retryer, c.opts.sqsAPIMaxRetryAttempts)
		})
	}

	resp, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(c.queueName)})
	if err != nil {
		return nil, fmt.Errorf("failed to get SQS queue URL for %s: %w", c.queueName, err)
	}

	c.queueURL = aws.ToString(resp.QueueUrl)
	c.initialized = true

	return c, nil
}

// ProcessBatch runs the handler over each record in the batch independently
// and returns the message IDs of the records that failed. A panic inside the
// handler is captured and reported as that record's failure, never allowed
// to take down the rest of the batch.
//
// Per-record processing time is bounded by the deadline configured with
// [WithHandlerTimeout], which must stay short of the queue's visibility
// timeout; exceeding it surfaces as a per-record failure and the queue
// redelivers the message.
func ProcessBatch(ctx context.Context, messages []types.QueueMessage, handler types.BatchHandler, timeout time.Duration, logger types.Logger) []string {
	var failed []string

	for _, msg := range messages {
		if err := processOne(ctx, msg, handler, timeout); err != nil {
			logger.
				WithField("message_id", msg.MessageID).
				Errorf("Failed to process queue message: %v", err)
			failed = append(failed, msg.MessageID)
			continue
		}

		logger.WithField("message_id", msg.MessageID).Debug("Queue message processed")
	}

	return failed
}

func processOne(ctx context.Context, msg types.QueueMessage, handler types.BatchHandler, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return handler(ctx, msg)
}

// Run receives and processes batches until ctx is cancelled, at which point
// it returns ctx.Err(). Each received batch goes through [ProcessBatch];
// successfully processed messages are deleted, failed ones are left for
// redelivery after the visibility timeout. On a transient receive error it
// logs the failure and retries after a short backoff.
//
// Run must be called in its own goroutine. [Consumer.Init] must have been
// called successfully before Run is invoked.
func (c *Consumer) Run(ctx context.Context, handler types.BatchHandler) error {
	if !c.initialized {
		return errors.New("SQS consumer not initialized")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			err := c.readAndProcess(ctx, handler)

			// No error means we keep reading
			if err == nil {
				continue
			}

			// If the context was cancelled, return without logging an error
			if ctx.Err() != nil {
				return ctx.Err()
			}

			// The delay prevents hammering the SQS API (and excessive
			// logging) in case of persistent errors
			c.logger.Errorf("Error reading SQS queue %s: %v", c.queueName, err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (c *Consumer) readAndProcess(ctx context.Context, handler types.BatchHandler) error {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: c.opts.sqsReceiveMaxNumberOfMessages,
		VisibilityTimeout:   c.opts.sqsVisibilityTimeoutSeconds,
		WaitTimeSeconds:     c.opts.sqsReceiveWaitTimeSeconds,
	}

	output, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to receive SQS messages: %w", err)
	}

	if len(output.Messages) == 0 {
		return nil
	}

	batch := make([]types.QueueMessage, 0, len(output.Messages))
	receipts := make(map[string]string, len(output.Messages))

	for _, m := range output.Messages {
		msgID := aws.ToString(m.MessageId)
		batch = append(batch, types.QueueMessage{
			MessageID: msgID,
			Body:      aws.ToString(m.Body),
		})
		receipts[msgID] = aws.ToString(m.ReceiptHandle)
	}

	failed := ProcessBatch(ctx, batch, handler, c.opts.handlerTimeout, c.logger)

	failedSet := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		failedSet[id] = struct{}{}
	}

	for _, msg := range batch {
		if _, ok := failedSet[msg.MessageID]; ok {
			continue
		}
		c.deleteMessage(msg.MessageID, receipts[msg.MessageID])
	}

	return nil
}

// deleteMessage deletes the SQS message with the given receipt handle. It
// uses context.Background() with a short timeout because the delete must
// complete regardless of the caller's context state.
func (c *Consumer) deleteMessage(messageID, receiptHandle string) {
	logger := c.logger.WithField("message_id", messageID)

	input := &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: &receiptHandle,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		logger.Errorf("Failed to delete SQS message: %v", err)
		return
	}

	logger.Debug("SQS message deleted")
}
