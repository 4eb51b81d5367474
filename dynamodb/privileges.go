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

// CreatePrivilegesInput describes one privilege purchase: the grants to
// write plus the provider roll-up they imply.
type CreatePrivilegesInput struct {
	Compact    string
	ProviderID string

	// Privileges are the grants purchased in this transaction, one per
	// jurisdiction+licenseType.
	Privileges []types.Privilege

	// CompactTransactionID ties the grants to the purchase that paid for
	// them.
	CompactTransactionID string
}

// CreateProviderPrivileges performs the multi-item write for a privilege
// purchase: N privilege records, their history snapshots, then the provider
// roll-up. The writes are not transactional; on any failure mid-batch,
// compensating deletes are issued for every item written so far and the
// operation surfaces as an internal service error, so the partition never
// observes a partially-applied grant as a success.
func (c *Client) CreateProviderPrivileges(ctx context.Context, in CreatePrivilegesInput) error {
	if len(in.Privileges) == 0 {
		return fmt.Errorf("%w: no privileges to create", types.ErrInvalidRequest)
	}

	pk, err := buildProviderPartitionKey(in.Compact, in.ProviderID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	now := c.opts.clock()

	// A purchase may carry several license types for one jurisdiction; the
	// roll-up string set must still hold each jurisdiction once.
	jurisdictions := make([]string, 0, len(in.Privileges))
	seen := make(map[string]struct{}, len(in.Privileges))

	for i := range in.Privileges {
		privilege := &in.Privileges[i]
		privilege.Type = types.RecordTypePrivilege
		privilege.Compact = in.Compact
		privilege.ProviderID = in.ProviderID
		privilege.CompactTransactionID = in.CompactTransactionID
		privilege.DateOfUpdate = now

		if err := privilege.Validate(); err != nil {
			return err
		}

		if _, ok := seen[privilege.Jurisdiction]; !ok {
			seen[privilege.Jurisdiction] = struct{}{}
			jurisdictions = append(jurisdictions, privilege.Jurisdiction)
		}
	}

	var written []itemKey

	fail := func(cause error) error {
		failures := c.rollback(ctx, written)
		if len(failures) > 0 {
			return fmt.Errorf("%w: privilege write failed (%s) and %d compensating deletes also failed: %s",
				types.ErrInternal, cause, len(failures), errors.Join(failures...))
		}
		return fmt.Errorf("%w: privilege write failed, %d compensating deletes issued: %s", types.ErrInternal, len(written), cause)
	}

	for i := range in.Privileges {
		privilege := &in.Privileges[i]

		sk, err := buildPrivilegeSortKey(in.Compact, privilege.Jurisdiction, privilege.LicenseType)
		if err != nil {
			return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
		}

		if err := c.putRecord(ctx, pk, sk, privilege); err != nil {
			return fail(err)
		}
		written = append(written, itemKey{pk: pk, sk: sk})

		update := types.Update{
			Type:         types.RecordTypeUpdate,
			ID:           c.opts.idGenerator(),
			ProviderID:   in.ProviderID,
			Compact:      in.Compact,
			Tier:         types.TierPrivilege,
			Jurisdiction: privilege.Jurisdiction,
			LicenseType:  privilege.LicenseType,
			UpdateType:   "creation",
			Previous:     map[string]any{},
			UpdatedValues: map[string]any{
				"persistedStatus":      string(privilege.PersistedStatus),
				"dateOfIssuance":       string(privilege.DateOfIssuance),
				"dateOfExpiration":     string(privilege.DateOfExpiration),
				"compactTransactionId": privilege.CompactTransactionID,
			},
			Timestamp: now,
		}

		updateSK, err := buildUpdateSortKey(in.Compact, types.TierPrivilege, now, update.ID)
		if err != nil {
			return fail(err)
		}

		if err := c.putRecord(ctx, pk, updateSK, &update); err != nil {
			return fail(err)
		}
		written = append(written, itemKey{pk: pk, sk: updateSK})
	}

	if err := c.addPrivilegeJurisdictions(ctx, pk, in.Compact, jurisdictions, now); err != nil {
		return fail(err)
	}

	return nil
}

// addPrivilegeJurisdictions rolls the granted jurisdictions up onto the
// provider record.
func (c *Client) addPrivilegeJurisdictions(ctx context.Context, pk, compact string, jurisdictions []string, now time.Time) error {
	sk, err := buildProviderSortKey(compact)
	if err != nil {
		return err
	}

	input := &dynamodb.UpdateItemInput{
		TableName:           &c.tableName,
		ConditionExpression: aws.String("attribute_exists(pk)"),
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression: aws.String("ADD privilegeJurisdictions :jurisdictions SET dateOfUpdate = :now"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":jurisdictions": &dynamodbtypes.AttributeValueMemberSS{Value: jurisdictions},
			":now":           &dynamodbtypes.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		},
	}

	if _, err := c.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("failed to update provider privilege jurisdictions: %w", err)
	}

	return nil
}

// DeactivateHomeJurisdictionLicensePrivileges cascades a license
// deactivation into deactivating every privilege issued against that
// license jurisdiction. Re-applying to an already-inactive privilege is a
// no-op, so redelivered deactivation events are safe. Returns the number of
// privileges deactivated by this call.
func (c *Client) DeactivateHomeJurisdictionLicensePrivileges(ctx context.Context, compact, providerID, licenseJurisdiction string) (int, error) {
	pk, err := buildProviderPartitionKey(compact, providerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	prefix, err := buildPrivilegeSortKeyPrefix(compact)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	queryInput := &dynamodb.QueryInput{
		TableName: &c.tableName,
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":pk":     &dynamodbtypes.AttributeValueMemberS{Value: pk},
			":prefix": &dynamodbtypes.AttributeValueMemberS{Value: prefix},
		},
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :pk AND begins_with(%s, :prefix)", PartitionKey, SortKey)),
	}

	var privileges []types.Privilege

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		output, err := c.client.Query(ctx, queryInput)
		if err != nil {
			return 0, fmt.Errorf("%w: failed to query privileges in table %s: %s", types.ErrInternal, c.tableName, err)
		}

		for _, item := range output.Items {
			var privilege types.Privilege
			if err := attributevalue.UnmarshalMap(item, &privilege); err != nil {
				return 0, fmt.Errorf("%w: failed to unmarshal privilege record: %s", types.ErrInternal, err)
			}
			privileges = append(privileges, privilege)
		}

		if output.LastEvaluatedKey == nil {
			break
		}

		queryInput.ExclusiveStartKey = output.LastEvaluatedKey
	}

	now := c.opts.clock()
	deactivated := 0

	for _, privilege := range privileges {
		if privilege.LicenseJurisdiction != licenseJurisdiction {
			continue
		}

		if privilege.PersistedStatus == types.PersistedStatusInactive {
			continue
		}

		sk, err := buildPrivilegeSortKey(compact, privilege.Jurisdiction, privilege.LicenseType)
		if err != nil {
			return deactivated, fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
		}

		updateInput := &dynamodb.UpdateItemInput{
			TableName: &c.tableName,
			Key: map[string]dynamodbtypes.AttributeValue{
				PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
				SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
			},
			// The condition keeps the write idempotent under concurrent
			// cascades: only an active privilege transitions.
			ConditionExpression: aws.String("persistedStatus = :active"),
			UpdateExpression:    aws.String("SET persistedStatus = :inactive, dateOfUpdate = :now"),
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":active":   &dynamodbtypes.AttributeValueMemberS{Value: string(types.PersistedStatusActive)},
				":inactive": &dynamodbtypes.AttributeValueMemberS{Value: string(types.PersistedStatusInactive)},
				":now":      &dynamodbtypes.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
			},
		}

		if _, err := c.client.UpdateItem(ctx, updateInput); err != nil {
			var conditionFailed *dynamodbtypes.ConditionalCheckFailedException
			if errors.As(err, &conditionFailed) {
				// Lost a race to another cascade; already inactive.
				continue
			}
			return deactivated, fmt.Errorf("%w: failed to deactivate privilege %s/%s: %s", types.ErrInternal, privilege.Jurisdiction, privilege.LicenseType, err)
		}

		update := types.Update{
			Type:         types.RecordTypeUpdate,
			ID:           c.opts.idGenerator(),
			ProviderID:   providerID,
			Compact:      compact,
			Tier:         types.TierPrivilege,
			Jurisdiction: privilege.Jurisdiction,
			LicenseType:  privilege.LicenseType,
			UpdateType:   "deactivation",
			Previous: map[string]any{
				"persistedStatus": string(types.PersistedStatusActive),
			},
			UpdatedValues: map[string]any{
				"persistedStatus": string(types.PersistedStatusInactive),
			},
			Timestamp: now,
		}

		updateSK, err := buildUpdateSortKey(compact, types.TierPrivilege, now, update.ID)
		if err != nil {
			return deactivated, fmt.Errorf("%w: %s", types.ErrInternal, err)
		}

		if err := c.putRecord(ctx, pk, updateSK, &update); err != nil {
			return deactivated, fmt.Errorf("%w: %s", types.ErrInternal, err)
		}

		deactivated++
	}

	return deactivated, nil
}
