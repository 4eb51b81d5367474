package ingest

import (
	"time"

	"github.com/compactmgr/engine/metrics"
)

// Options holds the configurable handler dependencies.
type Options struct {
	tracker Tracker
	metrics *metrics.Metrics
	clock   func() time.Time
}

func newOptions() *Options {
	return &Options{
		clock: time.Now,
	}
}

// Option configures a Handlers instance.
type Option func(*Options)

// WithTracker enables idempotent event publication on the deactivation path.
// Without it, a redelivered message publishes again.
func WithTracker(tracker Tracker) Option {
	return func(o *Options) {
		o.tracker = tracker
	}
}

// WithMetrics attaches Prometheus collectors. A nil Metrics is valid and
// records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		o.metrics = m
	}
}

// WithClock overrides the time source, for testing.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}
