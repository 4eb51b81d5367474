package eventbus

import "errors"

// maxBatchSize is the EventBridge PutEvents entry limit per call.
const maxBatchSize = 10

// Option is a functional option for configuring a [Writer].
type Option func(*Options)

// Options holds the configuration for a [Writer].
type Options struct {
	batchSize      int
	eventBridgeAPI API
}

func newOptions() *Options {
	return &Options{
		batchSize: maxBatchSize,
	}
}

func (o *Options) validate() error {
	if o.batchSize <= 0 {
		return errors.New("batch size must be greater than zero")
	}

	if o.batchSize > maxBatchSize {
		return errors.New("batch size cannot exceed the PutEvents limit of 10")
	}

	return nil
}

// WithBatchSize sets the flush threshold. The default and maximum is 10,
// the PutEvents per-call entry limit.
func WithBatchSize(n int) Option {
	return func(o *Options) {
		o.batchSize = n
	}
}

// WithAPI sets a custom [API] implementation. This is useful for injecting
// mocks in tests.
func WithAPI(api API) Option {
	return func(o *Options) {
		o.eventBridgeAPI = api
	}
}
