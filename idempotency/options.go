package idempotency

import (
	"errors"
	"time"
)

const defaultTimeToLive = 90 * 24 * time.Hour

// Options holds the configurable Tracker settings.
type Options struct {
	timeToLive     time.Duration
	defaultOnError bool
	dynamoDBAPI    API
	clock          func() time.Time
}

func newOptions() *Options {
	return &Options{
		timeToLive:     defaultTimeToLive,
		defaultOnError: true,
		clock:          time.Now,
	}
}

func (o *Options) validate() error {
	if o.timeToLive <= 0 {
		return errors.New("time to live must be positive")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	return nil
}

// Option configures a Tracker.
type Option func(*Options)

// WithTimeToLive overrides how long outcome records are retained before
// DynamoDB expires them. Defaults to 90 days.
func WithTimeToLive(ttl time.Duration) Option {
	return func(o *Options) {
		o.timeToLive = ttl
	}
}

// WithDefaultOnError sets whether a tracker read failure results in a send
// (true, the default) or a skip (false).
func WithDefaultOnError(send bool) Option {
	return func(o *Options) {
		o.defaultOnError = send
	}
}

// WithAPI overrides the DynamoDB client, for testing.
func WithAPI(api API) Option {
	return func(o *Options) {
		o.dynamoDBAPI = api
	}
}

// WithClock overrides the time source, for testing.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}
