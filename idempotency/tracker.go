// Package idempotency tracks notification sends so whole messages can be
// retried safely without duplicate caller-visible notifications.
//
// Before sending, callers ask [Tracker.ShouldSend]; a send already recorded
// as successful is skipped. After the attempt, [Tracker.RecordOutcome]
// persists the result under the same composite key. Tracker state lives in
// DynamoDB with a TTL attribute so stale keys age out on their own.
//
// A tracker read failure fails to its configured default (send) rather than
// blocking the primary operation; at worst a recipient sees a duplicate,
// never silence.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/compactmgr/engine/types"
)

const (
	// PartitionKey is the DynamoDB partition key attribute name.
	PartitionKey = "pk"

	// SortKey is the DynamoDB sort key attribute name.
	SortKey = "sk"

	// StatusAttr records the attempt outcome: "success" or "failure".
	StatusAttr = "status"

	// TTLAttr is the attribute used for DynamoDB TTL-based expiration. The
	// table must have TTL enabled on this attribute.
	TTLAttr = "ttl"

	statusSuccess = "success"
	statusFailure = "failure"
)

// API is the subset of the DynamoDB client the [Tracker] depends on.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Key is the composite idempotency key for one notification.
type Key struct {
	RecipientType string
	EventType     types.EventType
	EventTime     time.Time
	EntityID      string
}

func (k Key) validate() error {
	if k.RecipientType == "" {
		return errors.New("recipient type cannot be empty")
	}

	if k.EventType == "" {
		return errors.New("event type cannot be empty")
	}

	if k.EventTime.IsZero() {
		return errors.New("event time cannot be zero")
	}

	if k.EntityID == "" {
		return errors.New("entity id cannot be empty")
	}

	return nil
}

func (k Key) storageKey() string {
	return fmt.Sprintf("%s#%s#%s#%s", k.RecipientType, k.EventType, k.EventTime.UTC().Format(time.RFC3339), k.EntityID)
}

// Tracker is the DynamoDB-backed notification idempotency store.
type Tracker struct {
	client    API
	tableName string
	logger    types.Logger
	opts      *Options
}

// NewTracker creates a Tracker over the given table. The table must have a
// composite pk/sk key and TTL enabled on the ttl attribute.
func NewTracker(awsCfg *aws.Config, tableName string, logger types.Logger, opts ...Option) (*Tracker, error) {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	if err := options.validate(); err != nil {
		return nil, fmt.Errorf("invalid idempotency options: %w", err)
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	client := options.dynamoDBAPI
	if client == nil {
		client = dynamodb.NewFromConfig(*awsCfg)
	}

	return &Tracker{
		client:    client,
		tableName: tableName,
		logger:    logger.WithField("table_name", tableName),
		opts:      options,
	}, nil
}

// ShouldSend reports whether the notification identified by key still needs
// to be sent. A key recorded as successfully sent returns false. A tracker
// read failure fails open to the configured default rather than blocking
// the send path.
func (t *Tracker) ShouldSend(ctx context.Context, key Key) (bool, error) {
	if err := key.validate(); err != nil {
		return false, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	storageKey := key.storageKey()

	input := &dynamodb.GetItemInput{
		TableName:      &t.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: storageKey},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: storageKey},
		},
	}

	output, err := t.client.GetItem(ctx, input)
	if err != nil {
		// Deliberate fail-open: a duplicate notification beats a dropped one.
		t.logger.Errorf("Failed to read idempotency key, defaulting to send: %v", err)
		return t.opts.defaultOnError, nil
	}

	if len(output.Item) == 0 {
		return true, nil
	}

	status, ok := output.Item[StatusAttr].(*dynamodbtypes.AttributeValueMemberS)
	if !ok {
		return true, nil
	}

	return status.Value != statusSuccess, nil
}

// RecordOutcome persists the attempt result under the key, overwriting any
// prior failure record. The item expires after the configured TTL.
func (t *Tracker) RecordOutcome(ctx context.Context, key Key, sent bool) error {
	if err := key.validate(); err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	storageKey := key.storageKey()

	status := statusFailure
	if sent {
		status = statusSuccess
	}

	ttl := strconv.FormatInt(t.opts.clock().Add(t.opts.timeToLive).Unix(), 10)

	input := &dynamodb.PutItemInput{
		TableName: &t.tableName,
		Item: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: storageKey},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: storageKey},
			StatusAttr:   &dynamodbtypes.AttributeValueMemberS{Value: status},
			TTLAttr:      &dynamodbtypes.AttributeValueMemberN{Value: ttl},
		},
	}

	if _, err := t.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("%w: failed to record notification outcome in table %s: %s", types.ErrInternal, t.tableName, err)
	}

	return nil
}
