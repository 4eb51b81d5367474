package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/compactmgr/engine/types"
)

// GetUserPermissions returns every per-compact permission record for the
// user, the input to scope-set computation at token issuance. Returns an
// error wrapping [types.ErrNotFound] when the user has no permission records
// at all.
func (c *Client) GetUserPermissions(ctx context.Context, userID string) ([]types.UserPermission, error) {
	pk, err := buildUserPartitionKey(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	queryInput := &dynamodb.QueryInput{
		TableName: &c.opts.usersTableName,
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":pk":     &dynamodbtypes.AttributeValueMemberS{Value: pk},
			":prefix": &dynamodbtypes.AttributeValueMemberS{Value: "COMPACT#"},
		},
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk AND begins_with(%s, :prefix)", PartitionKey, SortKey)),
	}

	var permissions []types.UserPermission

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		output, err := c.client.Query(ctx, queryInput)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to query user permissions in table %s: %s", types.ErrInternal, c.opts.usersTableName, err)
		}

		for _, item := range output.Items {
			var permission types.UserPermission
			if err := attributevalue.UnmarshalMap(item, &permission); err != nil {
				return nil, fmt.Errorf("%w: failed to unmarshal user permission record: %s", types.ErrInternal, err)
			}
			permissions = append(permissions, permission)
		}

		if output.LastEvaluatedKey == nil {
			break
		}

		queryInput.ExclusiveStartKey = output.LastEvaluatedKey
	}

	if len(permissions) == 0 {
		return nil, fmt.Errorf("%w: no permission records for user %s", types.ErrNotFound, userID)
	}

	return permissions, nil
}

// GetUserPermission returns the user's permission record for one compact.
func (c *Client) GetUserPermission(ctx context.Context, userID, compact string) (*types.UserPermission, error) {
	pk, err := buildUserPartitionKey(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	sk, err := buildUserCompactSortKey(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	input := &dynamodb.GetItemInput{
		TableName: &c.opts.usersTableName,
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
		},
	}

	output, err := c.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read user permission from table %s: %s", types.ErrInternal, c.opts.usersTableName, err)
	}

	if len(output.Item) == 0 {
		return nil, fmt.Errorf("%w: no permission record for user %s in compact %s", types.ErrNotFound, userID, compact)
	}

	var permission types.UserPermission
	if err := attributevalue.UnmarshalMap(output.Item, &permission); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal user permission record: %s", types.ErrInternal, err)
	}

	return &permission, nil
}
