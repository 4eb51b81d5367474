// Package ingest implements the queue-facing handlers for license ingest and
// license deactivation messages. Handlers satisfy the [types.BatchHandler]
// contract: returning an error marks only that message as failed for
// redelivery.
//
// A message that fails schema validation is not retried for its own sake;
// retrying cannot fix it. Instead the handler publishes a
// license.ingest-failure event carrying the field-level errors and reports
// the message as handled once the bus accepts that event. A message whose
// body is not JSON at all cannot even be attributed to a compact, so it is
// returned as a failure and left to the queue's redrive policy.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/compactmgr/engine/idempotency"
	"github.com/compactmgr/engine/types"
)

// Store is the provider-table surface the handlers write through.
type Store interface {
	GetOrCreateProviderID(ctx context.Context, compact, ssn string) (providerID string, created bool, err error)
	PutLicense(ctx context.Context, license *types.License) error
	DeactivateHomeJurisdictionLicensePrivileges(ctx context.Context, compact, providerID, licenseJurisdiction string) (int, error)
}

// EventWriter is one unit-of-work batch of outbound domain events.
type EventWriter interface {
	Add(ctx context.Context, event types.DomainEvent) error
	Close(ctx context.Context) error
	FailedEntryCount() int
}

// WriterFactory opens a fresh EventWriter. Handlers open one per message so
// events are flushed before the message is reported handled.
type WriterFactory func() (EventWriter, error)

// Tracker guards notification-bearing events against duplicate publication
// when a message is redelivered.
type Tracker interface {
	ShouldSend(ctx context.Context, key idempotency.Key) (bool, error)
	RecordOutcome(ctx context.Context, key idempotency.Key, sent bool) error
}

// LicenseMessage is the body of one inbound license ingest message.
type LicenseMessage struct {
	Compact      string        `json:"compact"`
	Jurisdiction string        `json:"jurisdiction"`
	SSN          string        `json:"ssn"`
	License      types.License `json:"license"`
}

// DeactivationMessage is the body of one inbound license deactivation
// message. Jurisdiction names the home-state license being deactivated; the
// cascade reaches every active privilege issued against it.
type DeactivationMessage struct {
	Compact      string    `json:"compact"`
	ProviderID   string    `json:"providerId"`
	Jurisdiction string    `json:"jurisdiction"`
	LicenseType  string    `json:"licenseType"`
	EventTime    time.Time `json:"eventTime"`
}

func (m *DeactivationMessage) validate() error {
	fields := map[string]string{}

	if m.Compact == "" {
		fields["compact"] = "required"
	}
	if m.ProviderID == "" {
		fields["providerId"] = "required"
	}
	if m.Jurisdiction == "" {
		fields["jurisdiction"] = "required"
	}
	if m.EventTime.IsZero() {
		fields["eventTime"] = "required"
	}

	if len(fields) > 0 {
		return &types.ValidationError{Fields: fields}
	}
	return nil
}

// Handlers holds the dependencies shared by the queue handlers.
type Handlers struct {
	store     Store
	newWriter WriterFactory
	logger    types.Logger
	opts      *Options
}

// New creates the handler set. The writer factory must return a fresh writer
// per call; handlers close it before returning.
func New(store Store, newWriter WriterFactory, logger types.Logger, opts ...Option) (*Handlers, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if newWriter == nil {
		return nil, errors.New("writer factory cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	options := newOptions()
	for _, o := range opts {
		o(options)
	}

	return &Handlers{
		store:     store,
		newWriter: newWriter,
		logger:    logger,
		opts:      options,
	}, nil
}

// HandleLicenseMessage ingests one jurisdiction-submitted license. The SSN in
// the envelope resolves (or mints) the provider ID; the license body is then
// stored with its history snapshot and provider roll-up, and a license.ingest
// event is published.
func (h *Handlers) HandleLicenseMessage(ctx context.Context, msg types.QueueMessage) error {
	start := h.opts.clock()

	var body LicenseMessage
	if err := json.Unmarshal([]byte(msg.Body), &body); err != nil {
		return fmt.Errorf("%w: license message %s is not valid JSON: %s", types.ErrInvalidRequest, msg.MessageID, err)
	}

	logger := h.logger.WithField("message_id", msg.MessageID).
		WithField("compact", body.Compact).
		WithField("jurisdiction", body.Jurisdiction)

	writer, err := h.newWriter()
	if err != nil {
		return fmt.Errorf("%w: failed to open event writer: %s", types.ErrInternal, err)
	}

	license := body.License
	license.Compact = body.Compact
	license.Jurisdiction = body.Jurisdiction

	if err := h.validateLicenseMessage(&body, &license); err != nil {
		var validationErr *types.ValidationError
		if !errors.As(err, &validationErr) {
			return err
		}

		// Redelivery cannot fix a schema failure. Publish the failure for the
		// submitting jurisdiction and report the message handled.
		logger.Warnf("License message failed validation: %v", validationErr)
		h.opts.metrics.IncrementIngestOutcome(body.Compact, body.Jurisdiction, "validation_failure")

		return h.publishIngestFailure(ctx, writer, &body, validationErr)
	}

	providerID, created, err := h.store.GetOrCreateProviderID(ctx, body.Compact, body.SSN)
	if err != nil {
		h.opts.metrics.IncrementIngestOutcome(body.Compact, body.Jurisdiction, "error")
		return fmt.Errorf("failed to resolve provider id: %w", err)
	}

	if created {
		logger.Info("Registered new provider for ingested license")
	}

	license.ProviderID = providerID

	if err := h.store.PutLicense(ctx, &license); err != nil {
		h.opts.metrics.IncrementIngestOutcome(body.Compact, body.Jurisdiction, "error")
		return fmt.Errorf("failed to store license: %w", err)
	}

	event := types.DomainEvent{
		Type:         types.EventTypeLicenseIngest,
		Compact:      body.Compact,
		Jurisdiction: body.Jurisdiction,
		ProviderID:   providerID,
		LicenseType:  license.LicenseType,
		EventTime:    h.opts.clock(),
	}

	if err := writer.Add(ctx, event); err != nil {
		h.opts.metrics.IncrementEventOutcome(string(event.Type), "failed")
		return fmt.Errorf("failed to publish ingest event: %w", err)
	}

	if err := closeWriter(ctx, writer); err != nil {
		h.opts.metrics.IncrementEventOutcome(string(event.Type), "failed")
		return err
	}

	h.opts.metrics.IncrementEventOutcome(string(event.Type), "accepted")
	h.opts.metrics.IncrementIngestOutcome(body.Compact, body.Jurisdiction, "success")
	h.opts.metrics.ObserveIngestLatency(h.opts.clock().Sub(start))

	logger.WithField("provider_id", providerID).Debug("Ingested license")

	return nil
}

func (h *Handlers) validateLicenseMessage(body *LicenseMessage, license *types.License) error {
	fields := map[string]string{}

	if body.Compact == "" {
		fields["compact"] = "required"
	}
	if body.Jurisdiction == "" {
		fields["jurisdiction"] = "required"
	}
	if body.SSN == "" {
		fields["ssn"] = "required"
	}

	// The provider ID and update stamp are assigned during ingest, so the
	// license is validated with placeholders in their place.
	candidate := *license
	candidate.ProviderID = "pending"

	if err := candidate.Validate(); err != nil {
		var validationErr *types.ValidationError
		if errors.As(err, &validationErr) {
			for name, reason := range validationErr.Fields {
				fields["license."+name] = reason
			}
		} else {
			return err
		}
	}

	if len(fields) > 0 {
		return &types.ValidationError{Fields: fields}
	}
	return nil
}

func (h *Handlers) publishIngestFailure(ctx context.Context, writer EventWriter, body *LicenseMessage, validationErr *types.ValidationError) error {
	event := types.DomainEvent{
		Type:         types.EventTypeIngestFailure,
		Compact:      body.Compact,
		Jurisdiction: body.Jurisdiction,
		EventTime:    h.opts.clock(),
		Errors:       validationErr.Fields,
	}

	if event.Compact == "" {
		// Nothing to route the failure to; drop it rather than publish an
		// unattributable event.
		return nil
	}

	if err := writer.Add(ctx, event); err != nil {
		h.opts.metrics.IncrementEventOutcome(string(event.Type), "failed")
		return fmt.Errorf("failed to publish ingest-failure event: %w", err)
	}

	if err := closeWriter(ctx, writer); err != nil {
		h.opts.metrics.IncrementEventOutcome(string(event.Type), "failed")
		return err
	}

	h.opts.metrics.IncrementEventOutcome(string(event.Type), "accepted")
	return nil
}

// closeWriter flushes the batch. A transport error or any per-entry
// rejection surfaces as an error; the event is not yet on the bus and the
// message must stay on the queue.
func closeWriter(ctx context.Context, writer EventWriter) error {
	if err := writer.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush events: %w", err)
	}

	if n := writer.FailedEntryCount(); n > 0 {
		return fmt.Errorf("%w: %d event(s) rejected by the bus", types.ErrInternal, n)
	}

	return nil
}

// HandleDeactivationMessage applies a home-jurisdiction license deactivation:
// every active privilege issued against that license is deactivated, each
// with its own history snapshot. The downstream license.deactivation event is
// guarded by the idempotency tracker so a redelivered message does not notify
// twice.
func (h *Handlers) HandleDeactivationMessage(ctx context.Context, msg types.QueueMessage) error {
	var body DeactivationMessage
	if err := json.Unmarshal([]byte(msg.Body), &body); err != nil {
		return fmt.Errorf("%w: deactivation message %s is not valid JSON: %s", types.ErrInvalidRequest, msg.MessageID, err)
	}

	if err := body.validate(); err != nil {
		return err
	}

	logger := h.logger.WithField("message_id", msg.MessageID).
		WithField("compact", body.Compact).
		WithField("provider_id", body.ProviderID).
		WithField("jurisdiction", body.Jurisdiction)

	count, err := h.store.DeactivateHomeJurisdictionLicensePrivileges(ctx, body.Compact, body.ProviderID, body.Jurisdiction)
	if err != nil {
		return fmt.Errorf("failed to deactivate privileges: %w", err)
	}

	h.opts.metrics.AddPrivilegeDeactivations(body.Compact, body.Jurisdiction, count)
	logger.WithField("deactivated", count).Info("Applied license deactivation cascade")

	return h.publishDeactivation(ctx, logger, &body)
}

func (h *Handlers) publishDeactivation(ctx context.Context, logger types.Logger, body *DeactivationMessage) error {
	key := idempotency.Key{
		RecipientType: "provider",
		EventType:     types.EventTypeLicenseDeactivation,
		EventTime:     body.EventTime,
		EntityID:      body.ProviderID,
	}

	if h.opts.tracker != nil {
		send, err := h.opts.tracker.ShouldSend(ctx, key)
		if err != nil {
			return err
		}

		if !send {
			h.opts.metrics.IncrementNotificationReplays()
			logger.Debug("Skipping deactivation event already published")
			return nil
		}
	}

	writer, err := h.newWriter()
	if err != nil {
		return fmt.Errorf("%w: failed to open event writer: %s", types.ErrInternal, err)
	}

	event := types.DomainEvent{
		Type:         types.EventTypeLicenseDeactivation,
		Compact:      body.Compact,
		Jurisdiction: body.Jurisdiction,
		ProviderID:   body.ProviderID,
		LicenseType:  body.LicenseType,
		EventTime:    body.EventTime,
	}

	if err := writer.Add(ctx, event); err != nil {
		return fmt.Errorf("failed to publish deactivation event: %w", err)
	}

	if err := writer.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush deactivation event: %w", err)
	}

	sent := writer.FailedEntryCount() == 0
	if sent {
		h.opts.metrics.IncrementEventOutcome(string(event.Type), "accepted")
	} else {
		h.opts.metrics.IncrementEventOutcome(string(event.Type), "failed")
	}

	if h.opts.tracker != nil {
		if err := h.opts.tracker.RecordOutcome(ctx, key, sent); err != nil {
			logger.Errorf("Failed to record notification outcome: %v", err)
		}
	}

	if !sent {
		return fmt.Errorf("%w: deactivation event rejected by the bus", types.ErrInternal)
	}

	return nil
}
