// Package eventbus publishes domain events to an EventBridge bus in batches
// with explicit partial-failure accounting.
//
// A [Writer] is a scoped resource: open it, Add events as the work proceeds,
// and Close it when the scope exits. Entries are flushed as soon as the
// batch threshold is reached and once more on Close. A flush never raises on
// partial failure; it records the failed entry count and the failed entries
// by error code. Callers must check [Writer.FailedEntryCount] after Close
// and escalate if it is nonzero — batching efficiency is decoupled from
// error semantics, and a partial failure is always visible, never swallowed.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/compactmgr/engine/types"
)

// API is the subset of the EventBridge client the [Writer] depends on.
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// FailedEntry records one event the bus rejected, with the error code and
// message the bus returned for it.
type FailedEntry struct {
	Event        types.DomainEvent
	ErrorCode    string
	ErrorMessage string
}

// Writer accumulates domain events and publishes them in batches. It is not
// safe for concurrent use; open one Writer per unit of work.
type Writer struct {
	client  API
	busName string
	logger  types.Logger
	opts    *Options

	pending []types.DomainEvent
	failed  []FailedEntry
	closed  bool
}

// NewWriter creates a Writer publishing to the named event bus. The AWS
// config is used to construct the EventBridge client unless [WithAPI]
// injects one.
func NewWriter(awsCfg *aws.Config, busName string, logger types.Logger, opts ...Option) (*Writer, error) {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	if err := options.validate(); err != nil {
		return nil, fmt.Errorf("invalid event bus options: %w", err)
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	client := options.eventBridgeAPI
	if client == nil {
		client = eventbridge.NewFromConfig(*awsCfg)
	}

	return &Writer{
		client:  client,
		busName: busName,
		logger:  logger.WithField("bus_name", busName),
		opts:    options,
	}, nil
}

// Add queues one event for publication, flushing immediately when the batch
// threshold is reached. Add never reports bus-side failures; inspect
// [Writer.FailedEntryCount] after [Writer.Close].
func (w *Writer) Add(ctx context.Context, event types.DomainEvent) error {
	if w.closed {
		return errors.New("event writer already closed")
	}

	if err := event.Validate(); err != nil {
		return err
	}

	w.pending = append(w.pending, event)

	if len(w.pending) >= w.opts.batchSize {
		return w.flush(ctx)
	}

	return nil
}

// Close flushes any remaining entries and seals the writer. A Writer with no
// pending entries closes without a bus call. Close is idempotent.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true

	return w.flush(ctx)
}

// FailedEntryCount reports how many entries the bus rejected across all
// flushes so far. Nonzero after Close means the unit of work must escalate.
func (w *Writer) FailedEntryCount() int {
	return len(w.failed)
}

// FailedEntries returns the rejected entries with their bus error codes.
func (w *Writer) FailedEntries() []FailedEntry {
	return w.failed
}

// flush publishes all pending entries. A transport-level error (the whole
// call failed) is returned; per-entry failures are recorded, not raised.
func (w *Writer) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}

	batch := w.pending
	w.pending = nil

	entries := make([]eventbridgetypes.PutEventsRequestEntry, 0, len(batch))

	for i := range batch {
		detail, err := batch[i].Detail()
		if err != nil {
			return fmt.Errorf("failed to marshal event detail: %w", err)
		}

		entries = append(entries, eventbridgetypes.PutEventsRequestEntry{
			EventBusName: &w.busName,
			Source:       aws.String(types.EventSource),
			DetailType:   aws.String(string(batch[i].Type)),
			Detail:       &detail,
		})
	}

	output, err := w.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to publish event batch: %w", err)
	}

	if output.FailedEntryCount == 0 {
		w.logger.WithField("entry_count", len(batch)).Debug("Event batch published")
		return nil
	}

	for i, result := range output.Entries {
		if result.ErrorCode == nil {
			continue
		}

		failed := FailedEntry{
			Event:        batch[i],
			ErrorCode:    aws.ToString(result.ErrorCode),
			ErrorMessage: aws.ToString(result.ErrorMessage),
		}
		w.failed = append(w.failed, failed)

		w.logger.
			WithField("event_type", string(batch[i].Type)).
			WithField("error_code", failed.ErrorCode).
			Errorf("Event bus rejected entry: %s", failed.ErrorMessage)
	}

	return nil
}
