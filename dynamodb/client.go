package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/compactmgr/engine/eligibility"
	"github.com/compactmgr/engine/types"
)

const (
	// PartitionKey is the DynamoDB partition key attribute name.
	PartitionKey = "pk"

	// SortKey is the DynamoDB sort key attribute name.
	SortKey = "sk"

	// TypeAttr is the attribute that classifies an item within a provider
	// partition. Items are always classified by this attribute, never by
	// sort-key shape.
	TypeAttr = "type"

	// GSIProviderID is the Global Secondary Index on the SSN index records.
	// Partition key: providerId. It is the back-pointer used to find the SSN
	// mapping for a known provider.
	GSIProviderID = "GSIProviderID"

	// ProviderIDAttr is the attribute holding a record's provider id. It also
	// serves as the partition key for the [GSIProviderID] index.
	ProviderIDAttr = "providerId"
)

// Detail selects how much update history a provider read assembles. Each
// level admits one more history tier; the sort-key tier scheme turns the
// choice into a single range-query upper bound, so unread tiers are never
// scanned.
type Detail int

const (
	// DetailCore reads only the base records, no history.
	DetailCore Detail = iota

	// DetailPrivilegeHistory adds privilege history (tier 1).
	DetailPrivilegeHistory

	// DetailProviderHistory adds provider history (tiers 1-2).
	DetailProviderHistory

	// DetailFullHistory adds license history (tiers 1-3).
	DetailFullHistory
)

// Client is the DynamoDB-backed provider record aggregation client. It owns
// the single-table key-space for provider facts, the SSN uniqueness index
// and the user permission table.
//
// Use [New] to create a Client and [Client.Connect] to initialize the
// underlying DynamoDB connection before use.
type Client struct {
	client    API
	tableName string
	awsCfg    *aws.Config
	opts      *Options
}

// New creates a new Client configured with the given AWS config, provider
// table name, and optional options. Call [Client.Connect] on the returned
// client before use.
func New(awsCfg *aws.Config, tableName string, opts ...Option) *Client {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	return &Client{
		awsCfg:    awsCfg,
		tableName: tableName,
		opts:      options,
	}
}

// Connect initializes the DynamoDB client from the AWS config provided to
// [New]. It must be called before any other Client methods, and must
// complete before the Client is used concurrently.
func (c *Client) Connect() error {
	if err := c.opts.validate(); err != nil {
		return fmt.Errorf("invalid DynamoDB options: %w", err)
	}

	// Use injected DynamoDB API if provided (useful for testing).
	if c.opts.dynamoDBAPI != nil {
		c.client = c.opts.dynamoDBAPI
	} else {
		c.client = dynamodb.NewFromConfig(*c.awsCfg)
	}

	return nil
}

// Init validates the provider table schema: the composite pk/sk primary key
// and the [GSIProviderID] back-pointer index. Pass skipSchemaValidation true
// to skip all checks, which is useful when schema management lives elsewhere.
func (c *Client) Init(ctx context.Context, skipSchemaValidation bool) error {
	if skipSchemaValidation {
		return nil
	}

	input := &dynamodb.DescribeTableInput{
		TableName: aws.String(c.tableName),
	}

	response, err := c.client.DescribeTable(ctx, input)
	if err != nil {
		var notFoundError *dynamodbtypes.ResourceNotFoundException
		if errors.As(err, &notFoundError) {
			return fmt.Errorf("table %s does not exist", c.tableName)
		}
		return fmt.Errorf("failed to describe table %s: %w", c.tableName, err)
	}

	if len(response.Table.KeySchema) < 2 {
		return fmt.Errorf("table %s must have a composite primary key", c.tableName)
	}

	if aws.ToString(response.Table.KeySchema[0].AttributeName) != PartitionKey {
		return fmt.Errorf("table %s has partition key %s, expected %s", c.tableName, aws.ToString(response.Table.KeySchema[0].AttributeName), PartitionKey)
	}

	if aws.ToString(response.Table.KeySchema[1].AttributeName) != SortKey {
		return fmt.Errorf("table %s has sort key %s, expected %s", c.tableName, aws.ToString(response.Table.KeySchema[1].AttributeName), SortKey)
	}

	if response.Table.TableStatus != dynamodbtypes.TableStatusActive {
		return fmt.Errorf("table %s is not active (status: %s)", c.tableName, response.Table.TableStatus)
	}

	for _, index := range response.Table.GlobalSecondaryIndexes {
		if aws.ToString(index.IndexName) != GSIProviderID {
			continue
		}

		if aws.ToString(index.KeySchema[0].AttributeName) != ProviderIDAttr {
			return fmt.Errorf("global secondary index %s has partition key %s, expected %s", GSIProviderID, aws.ToString(index.KeySchema[0].AttributeName), ProviderIDAttr)
		}

		if index.IndexStatus != dynamodbtypes.IndexStatusActive {
			return fmt.Errorf("global secondary index %s is not active (status: %s)", GSIProviderID, index.IndexStatus)
		}

		return nil
	}

	return fmt.Errorf("global secondary index %s not found", GSIProviderID)
}

// GetProviderInput selects the provider and read behaviour for
// [Client.GetProvider].
type GetProviderInput struct {
	Compact    string
	ProviderID string

	// Detail bounds how much update history is assembled. Defaults to
	// DetailCore.
	Detail Detail

	// ConsistentRead requests a fully up-to-date snapshot of the partition.
	// The default read is eventually consistent.
	ConsistentRead bool
}

// GetProvider issues one range query over the provider's partition,
// paginates through it, classifies each item by its type attribute and
// assembles the aggregated view. Derived status fields are recomputed from
// raw facts before the view is returned.
//
// Returns an error wrapping [types.ErrNotFound] when the partition holds no
// provider record.
func (c *Client) GetProvider(ctx context.Context, in GetProviderInput) (*types.ProviderDetails, error) {
	pk, err := buildProviderPartitionKey(in.Compact, in.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	maxTier := types.UpdateTier(in.Detail)
	if in.Detail < DetailCore || in.Detail > DetailFullHistory {
		return nil, fmt.Errorf("%w: invalid detail level %d", types.ErrInvalidRequest, in.Detail)
	}

	upperBound, err := buildUpdateTierUpperBound(in.Compact, maxTier)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	queryInput := &dynamodb.QueryInput{
		TableName:      &c.tableName,
		ConsistentRead: aws.Bool(in.ConsistentRead),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":pk":    &dynamodbtypes.AttributeValueMemberS{Value: pk},
			":upper": &dynamodbtypes.AttributeValueMemberS{Value: upperBound},
		},
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk AND %s < :upper", PartitionKey, SortKey)),
	}

	details := &types.ProviderDetails{}
	found := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		output, err := c.client.Query(ctx, queryInput)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to query provider partition in table %s: %s", types.ErrInternal, c.tableName, err)
		}

		for _, item := range output.Items {
			hasProvider, err := classifyItem(item, details)
			if err != nil {
				return nil, err
			}
			found = found || hasProvider
		}

		if output.LastEvaluatedKey == nil {
			break
		}

		queryInput.ExclusiveStartKey = output.LastEvaluatedKey
	}

	if !found {
		return nil, fmt.Errorf("%w: provider %s in compact %s", types.ErrNotFound, in.ProviderID, in.Compact)
	}

	eligibility.Apply(&details.Provider, c.opts.clock())

	sort.Slice(details.History, func(i, j int) bool {
		if details.History[i].Tier != details.History[j].Tier {
			return details.History[i].Tier < details.History[j].Tier
		}
		return details.History[i].Timestamp.Before(details.History[j].Timestamp)
	})

	return details, nil
}

// GetProviderUserRecords assembles the view served to the provider's own
// user account: base records only, eventually consistent.
func (c *Client) GetProviderUserRecords(ctx context.Context, compact, providerID string) (*types.ProviderDetails, error) {
	return c.GetProvider(ctx, GetProviderInput{
		Compact:    compact,
		ProviderID: providerID,
		Detail:     DetailCore,
	})
}

// classifyItem dispatches one partition item into the aggregated view by its
// type attribute. Reports whether the item was the provider record.
func classifyItem(item map[string]dynamodbtypes.AttributeValue, details *types.ProviderDetails) (bool, error) {
	typeAttr, ok := item[TypeAttr].(*dynamodbtypes.AttributeValueMemberS)
	if !ok {
		return false, fmt.Errorf("%w: partition item has no %s attribute", types.ErrInternal, TypeAttr)
	}

	switch types.RecordType(typeAttr.Value) {
	case types.RecordTypeProvider:
		if err := attributevalue.UnmarshalMap(item, &details.Provider); err != nil {
			return false, fmt.Errorf("%w: failed to unmarshal provider record: %s", types.ErrInternal, err)
		}
		return true, nil

	case types.RecordTypeLicense:
		var record types.License
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return false, fmt.Errorf("%w: failed to unmarshal license record: %s", types.ErrInternal, err)
		}
		details.Licenses = append(details.Licenses, record)

	case types.RecordTypePrivilege:
		var record types.Privilege
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return false, fmt.Errorf("%w: failed to unmarshal privilege record: %s", types.ErrInternal, err)
		}
		details.Privileges = append(details.Privileges, record)

	case types.RecordTypeAdverseAction:
		var record types.AdverseAction
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return false, fmt.Errorf("%w: failed to unmarshal adverse action record: %s", types.ErrInternal, err)
		}
		details.AdverseActions = append(details.AdverseActions, record)

	case types.RecordTypeInvestigation:
		var record types.Investigation
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return false, fmt.Errorf("%w: failed to unmarshal investigation record: %s", types.ErrInternal, err)
		}
		details.Investigations = append(details.Investigations, record)

	case types.RecordTypeUpdate:
		var record types.Update
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return false, fmt.Errorf("%w: failed to unmarshal update record: %s", types.ErrInternal, err)
		}
		details.History = append(details.History, record)

	default:
		return false, fmt.Errorf("%w: unknown record type %q in provider partition", types.ErrInternal, typeAttr.Value)
	}

	return false, nil
}

// GetOrCreateProviderID resolves the provider id for an SSN, creating the
// mapping when none exists. Uniqueness is enforced with a conditional put on
// the SSN index; on condition failure the existing mapping is re-read and
// returned (read-after-failed-write reconciliation, not a transaction).
// created reports whether a new id was minted by this call.
func (c *Client) GetOrCreateProviderID(ctx context.Context, compact, ssn string) (providerID string, created bool, err error) {
	key, err := buildSSNIndexKey(compact, ssn)
	if err != nil {
		return "", false, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	providerID = c.opts.idGenerator()

	input := &dynamodb.PutItemInput{
		TableName:           &c.tableName,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
		Item: map[string]dynamodbtypes.AttributeValue{
			PartitionKey:   &dynamodbtypes.AttributeValueMemberS{Value: key},
			SortKey:        &dynamodbtypes.AttributeValueMemberS{Value: key},
			ProviderIDAttr: &dynamodbtypes.AttributeValueMemberS{Value: providerID},
			"compact":      &dynamodbtypes.AttributeValueMemberS{Value: compact},
		},
	}

	_, err = c.client.PutItem(ctx, input)
	if err == nil {
		return providerID, true, nil
	}

	var conditionFailed *dynamodbtypes.ConditionalCheckFailedException
	if !errors.As(err, &conditionFailed) {
		return "", false, fmt.Errorf("%w: failed to write SSN mapping to table %s: %s", types.ErrInternal, c.tableName, err)
	}

	// Someone else holds the mapping; a consistent read resolves which id won.
	getInput := &dynamodb.GetItemInput{
		TableName:      &c.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: key},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: key},
		},
	}

	output, err := c.client.GetItem(ctx, getInput)
	if err != nil {
		return "", false, fmt.Errorf("%w: failed to re-read SSN mapping from table %s: %s", types.ErrInternal, c.tableName, err)
	}

	if len(output.Item) == 0 {
		return "", false, fmt.Errorf("%w: SSN mapping vanished between conditional write and re-read", types.ErrConflict)
	}

	existing, ok := output.Item[ProviderIDAttr].(*dynamodbtypes.AttributeValueMemberS)
	if !ok || existing.Value == "" {
		return "", false, fmt.Errorf("%w: SSN mapping in table %s has no provider id", types.ErrInternal, c.tableName)
	}

	return existing.Value, false, nil
}

// putRecord marshals a record and writes it under the given keys.
func (c *Client) putRecord(ctx context.Context, pk, sk string, record any) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	item[PartitionKey] = &dynamodbtypes.AttributeValueMemberS{Value: pk}
	item[SortKey] = &dynamodbtypes.AttributeValueMemberS{Value: sk}

	input := &dynamodb.PutItemInput{
		TableName: &c.tableName,
		Item:      item,
	}

	if _, err := c.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to write record to table %s: %w", c.tableName, err)
	}

	return nil
}

// itemKey identifies one written item for compensating deletes.
type itemKey struct {
	pk string
	sk string
}

// rollback issues best-effort compensating deletes for the given keys, in
// reverse write order. Delete failures are collected, not fatal: a crash or
// failed delete here leaves a partial state that must be treated as a
// recoverable data-integrity case downstream.
func (c *Client) rollback(ctx context.Context, written []itemKey) []error {
	var failures []error

	for i := len(written) - 1; i >= 0; i-- {
		key := written[i]
		input := &dynamodb.DeleteItemInput{
			TableName: &c.tableName,
			Key: map[string]dynamodbtypes.AttributeValue{
				PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: key.pk},
				SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: key.sk},
			},
		}

		if _, err := c.client.DeleteItem(ctx, input); err != nil {
			failures = append(failures, fmt.Errorf("failed to roll back item %s/%s: %w", key.pk, key.sk, err))
		}
	}

	return failures
}
