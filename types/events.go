package types

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a domain event emitted by the engine's write paths.
type EventType string

const (
	EventTypeLicenseIngest       EventType = "license.ingest"
	EventTypeLicenseDeactivation EventType = "license.deactivation"
	EventTypePrivilegePurchase   EventType = "privilege.purchase"
	EventTypeIngestFailure       EventType = "license.ingest-failure"
)

// EventSource is the source attached to every published domain event.
const EventSource = "org.compactmgr.provider-data"

// DomainEvent is the payload published to the event bus after a fact write.
// Downstream consumers (search indexer, notification service) see only this
// shape; they never read the provider table directly.
type DomainEvent struct {
	Type         EventType `json:"eventType"`
	Compact      string    `json:"compact"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	ProviderID   string    `json:"providerId,omitempty"`
	LicenseType  string    `json:"licenseType,omitempty"`
	EventTime    time.Time `json:"eventTime"`

	// Errors carries field-level detail on ingest-failure events.
	Errors map[string]string `json:"errors,omitempty"`
}

func (e *DomainEvent) Validate() error {
	fields := map[string]string{}

	if e.Type == "" {
		fields["eventType"] = "required"
	}
	if e.Compact == "" {
		fields["compact"] = "required"
	}
	if e.EventTime.IsZero() {
		fields["eventTime"] = "required"
	}

	return newValidationError(fields)
}

// Detail renders the event as the JSON detail document sent to the bus.
func (e *DomainEvent) Detail() (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// QueueMessage is one inbound record from the message queue. The consumer
// reports failures by message ID so the queue redelivers only those.
type QueueMessage struct {
	MessageID string
	Body      string
}

// BatchHandler processes one inbound queue message. Returning an error marks
// exactly that message as failed; the rest of the batch continues.
type BatchHandler func(ctx context.Context, msg QueueMessage) error
