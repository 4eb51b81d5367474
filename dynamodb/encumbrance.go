package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/compactmgr/engine/types"
)

// CreateAdverseAction appends one disciplinary fact to the provider's
// partition and marks the provider encumbered. An empty ID is minted here.
func (c *Client) CreateAdverseAction(ctx context.Context, action *types.AdverseAction) error {
	action.Type = types.RecordTypeAdverseAction
	action.CreationDate = c.opts.clock()

	if action.ID == "" {
		action.ID = c.opts.idGenerator()
	}

	if err := action.Validate(); err != nil {
		return err
	}

	pk, err := buildProviderPartitionKey(action.Compact, action.ProviderID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	sk, err := buildAdverseActionSortKey(action.Compact, action.Jurisdiction, action.LicenseType, action.ID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	if err := c.putRecord(ctx, pk, sk, action); err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	return c.setEncumberedStatus(ctx, pk, action.Compact, types.Encumbered)
}

// LiftAdverseAction records the terminal lift of one adverse action. When no
// unlifted actions remain against the provider, the provider record returns
// to unencumbered.
func (c *Client) LiftAdverseAction(ctx context.Context, compact, providerID, jurisdiction, licenseType, id string, liftDate types.Date, liftedBy string) error {
	if !liftDate.Valid() {
		return fmt.Errorf("%w: lift date must be a YYYY-MM-DD date", types.ErrInvalidRequest)
	}

	pk, err := buildProviderPartitionKey(compact, providerID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	sk, err := buildAdverseActionSortKey(compact, jurisdiction, licenseType, id)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName: &c.tableName,
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
		},
		// The lift is terminal: it applies once, to an existing unlifted
		// action.
		ConditionExpression: aws.String("attribute_exists(pk) AND attribute_not_exists(effectiveLiftDate)"),
		UpdateExpression:    aws.String("SET effectiveLiftDate = :liftDate, liftedBy = :liftedBy"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":liftDate": &dynamodbtypes.AttributeValueMemberS{Value: string(liftDate)},
			":liftedBy": &dynamodbtypes.AttributeValueMemberS{Value: liftedBy},
		},
	}

	if _, err := c.client.UpdateItem(ctx, input); err != nil {
		var conditionFailed *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("%w: adverse action %s does not exist or is already lifted", types.ErrConflict, id)
		}
		return fmt.Errorf("%w: failed to lift adverse action %s: %s", types.ErrInternal, id, err)
	}

	remaining, err := c.countUnliftedAdverseActions(ctx, pk, compact)
	if err != nil {
		return err
	}

	if remaining == 0 {
		return c.setEncumberedStatus(ctx, pk, compact, types.Unencumbered)
	}

	return nil
}

func (c *Client) countUnliftedAdverseActions(ctx context.Context, pk, compact string) (int, error) {
	prefix := compact + "#ADVERSE#"

	queryInput := &dynamodb.QueryInput{
		TableName: &c.tableName,
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":pk":     &dynamodbtypes.AttributeValueMemberS{Value: pk},
			":prefix": &dynamodbtypes.AttributeValueMemberS{Value: prefix},
		},
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk AND begins_with(%s, :prefix)", PartitionKey, SortKey)),
	}

	remaining := 0

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		output, err := c.client.Query(ctx, queryInput)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to query adverse actions in table %s: %s", types.ErrInternal, c.tableName, err)
		}

		for _, item := range output.Items {
			var action types.AdverseAction
			if err := attributevalue.UnmarshalMap(item, &action); err != nil {
				return 0, fmt.Errorf("%w: failed to unmarshal adverse action record: %s", types.ErrInternal, err)
			}
			if !action.Lifted() {
				remaining++
			}
		}

		if output.LastEvaluatedKey == nil {
			break
		}

		queryInput.ExclusiveStartKey = output.LastEvaluatedKey
	}

	return remaining, nil
}

func (c *Client) setEncumberedStatus(ctx context.Context, pk, compact string, status types.EncumberedStatus) error {
	sk, err := buildProviderSortKey(compact)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:           &c.tableName,
		ConditionExpression: aws.String("attribute_exists(pk)"),
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression: aws.String("SET encumberedStatus = :status, dateOfUpdate = :now"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":status": &dynamodbtypes.AttributeValueMemberS{Value: string(status)},
			":now":    &dynamodbtypes.AttributeValueMemberS{Value: c.opts.clock().UTC().Format(time.RFC3339Nano)},
		},
	}

	if _, err := c.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("%w: failed to update provider encumbered status: %s", types.ErrInternal, err)
	}

	return nil
}

// CreateInvestigation appends one open-inquiry fact to the provider's
// partition. Investigations do not affect derived eligibility.
func (c *Client) CreateInvestigation(ctx context.Context, investigation *types.Investigation) error {
	investigation.Type = types.RecordTypeInvestigation
	investigation.CreationDate = c.opts.clock()

	if investigation.ID == "" {
		investigation.ID = c.opts.idGenerator()
	}

	if err := investigation.Validate(); err != nil {
		return err
	}

	pk, err := buildProviderPartitionKey(investigation.Compact, investigation.ProviderID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	sk, err := buildInvestigationSortKey(investigation.Compact, investigation.Jurisdiction, investigation.ID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	if err := c.putRecord(ctx, pk, sk, investigation); err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	return nil
}

// CloseInvestigation records the terminal close of one investigation.
func (c *Client) CloseInvestigation(ctx context.Context, compact, providerID, jurisdiction, id string, closeDate types.Date, closedBy string) error {
	if !closeDate.Valid() {
		return fmt.Errorf("%w: close date must be a YYYY-MM-DD date", types.ErrInvalidRequest)
	}

	pk, err := buildProviderPartitionKey(compact, providerID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	sk, err := buildInvestigationSortKey(compact, jurisdiction, id)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName: &c.tableName,
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
		},
		ConditionExpression: aws.String("attribute_exists(pk) AND attribute_not_exists(closeDate)"),
		UpdateExpression:    aws.String("SET closeDate = :closeDate, closedBy = :closedBy"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":closeDate": &dynamodbtypes.AttributeValueMemberS{Value: string(closeDate)},
			":closedBy":  &dynamodbtypes.AttributeValueMemberS{Value: closedBy},
		},
	}

	if _, err := c.client.UpdateItem(ctx, input); err != nil {
		var conditionFailed *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("%w: investigation %s does not exist or is already closed", types.ErrConflict, id)
		}
		return fmt.Errorf("%w: failed to close investigation %s: %s", types.ErrInternal, id, err)
	}

	return nil
}
