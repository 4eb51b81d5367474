package sqs

import (
	"errors"
	"time"
)

// Option is a functional option for configuring a [Consumer].
// Options are passed to [New] and applied before [Consumer.Init] is called.
type Option func(*Options)

// Options holds the resolved configuration for a [Consumer].
// All fields are set to sensible defaults by [New]; use With* functions to
// override individual values.
type Options struct {
	sqsVisibilityTimeoutSeconds   int32
	sqsReceiveMaxNumberOfMessages int32
	sqsReceiveWaitTimeSeconds     int32
	sqsAPIMaxRetryAttempts        int
	sqsAPIMaxRetryBackoffDelay    time.Duration
	handlerTimeout                time.Duration
	sqsClient                     sqsClient // Optional: injected SQS client for testing
}

func newOptions() *Options {
	return &Options{
		sqsVisibilityTimeoutSeconds:   30,
		sqsReceiveMaxNumberOfMessages: 10,
		sqsReceiveWaitTimeSeconds:     20,
		sqsAPIMaxRetryAttempts:        5,
		sqsAPIMaxRetryBackoffDelay:    20 * time.Second,
		handlerTimeout:                20 * time.Second,
	}
}

func (o *Options) validate() error {
	if o.sqsVisibilityTimeoutSeconds <= 0 {
		return errors.New("visibility timeout must be greater than zero")
	}

	if o.sqsReceiveMaxNumberOfMessages < 1 || o.sqsReceiveMaxNumberOfMessages > 10 {
		return errors.New("receive max number of messages must be between 1 and 10")
	}

	if o.sqsReceiveWaitTimeSeconds < 0 || o.sqsReceiveWaitTimeSeconds > 20 {
		return errors.New("receive wait time must be between 0 and 20 seconds")
	}

	if o.handlerTimeout <= 0 {
		return errors.New("handler timeout must be greater than zero")
	}

	// Processing must finish before the queue makes the message visible
	// again, or the idempotency layer has to absorb a double delivery.
	if o.handlerTimeout >= time.Duration(o.sqsVisibilityTimeoutSeconds)*time.Second {
		return errors.New("handler timeout must be shorter than the visibility timeout")
	}

	return nil
}

// WithVisibilityTimeout sets the visibility timeout requested on receive,
// in seconds. The default is 30.
func WithVisibilityTimeout(seconds int32) Option {
	return func(o *Options) {
		o.sqsVisibilityTimeoutSeconds = seconds
	}
}

// WithMaxNumberOfMessages sets how many messages one receive call may
// return, between 1 and 10. The default is 10.
func WithMaxNumberOfMessages(n int32) Option {
	return func(o *Options) {
		o.sqsReceiveMaxNumberOfMessages = n
	}
}

// WithReceiveWaitTime sets the long-poll wait, in seconds, between 0 and 20.
// The default is 20.
func WithReceiveWaitTime(seconds int32) Option {
	return func(o *Options) {
		o.sqsReceiveWaitTimeSeconds = seconds
	}
}

// WithAPIRetrySettings tunes the AWS SDK retryer used for SQS calls.
func WithAPIRetrySettings(maxAttempts int, maxBackoff time.Duration) Option {
	return func(o *Options) {
		o.sqsAPIMaxRetryAttempts = maxAttempts
		o.sqsAPIMaxRetryBackoffDelay = maxBackoff
	}
}

// WithHandlerTimeout bounds per-message processing time. It must be shorter
// than the visibility timeout; this is enforced by [Consumer.Init]. The
// default is 20 seconds.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.handlerTimeout = d
	}
}

// WithSQSClient injects a custom implementation of the internal sqsClient
// interface. This option is intended for testing.
func WithSQSClient(client sqsClient) Option {
	return func(o *Options) {
		o.sqsClient = client
	}
}
