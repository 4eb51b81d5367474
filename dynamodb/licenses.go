package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/compactmgr/engine/types"
)

// PutLicense ingests one jurisdiction-submitted license: a full replace of
// the license record, a tier-3 history snapshot of what it replaced, and the
// provider roll-up the license implies (with its own tier-2 snapshot when
// the roll-up changes the provider).
//
// Roll-up rules: a missing provider is created from the license. An ingest
// for the provider's current home jurisdiction refreshes the mirrored raw
// fields. An ingest for another jurisdiction moves the home jurisdiction
// only when the incoming license is compact-eligible; otherwise the license
// is stored without touching the provider.
func (c *Client) PutLicense(ctx context.Context, license *types.License) error {
	license.Type = types.RecordTypeLicense
	license.DateOfUpdate = c.opts.clock()

	if err := license.Validate(); err != nil {
		return err
	}

	pk, err := buildProviderPartitionKey(license.Compact, license.ProviderID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	sk, err := buildLicenseSortKey(license.Compact, license.Jurisdiction, license.LicenseType)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	previous, err := c.getLicense(ctx, pk, sk)
	if err != nil {
		return err
	}

	if err := c.putRecord(ctx, pk, sk, license); err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	if err := c.writeLicenseHistory(ctx, pk, license, previous); err != nil {
		return err
	}

	return c.rollUpProvider(ctx, pk, license)
}

func (c *Client) getLicense(ctx context.Context, pk, sk string) (*types.License, error) {
	input := &dynamodb.GetItemInput{
		TableName:      &c.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
		},
	}

	output, err := c.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read license from table %s: %s", types.ErrInternal, c.tableName, err)
	}

	if len(output.Item) == 0 {
		return nil, nil
	}

	var license types.License
	if err := attributevalue.UnmarshalMap(output.Item, &license); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal license record: %s", types.ErrInternal, err)
	}

	return &license, nil
}

func (c *Client) writeLicenseHistory(ctx context.Context, pk string, license, previous *types.License) error {
	updateType := "creation"
	previousFields := map[string]any{}

	if previous != nil {
		updateType = "update"
		fields, err := recordFields(previous)
		if err != nil {
			return fmt.Errorf("%w: %s", types.ErrInternal, err)
		}
		previousFields = fields
	}

	newFields, err := recordFields(license)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	update := types.Update{
		Type:          types.RecordTypeUpdate,
		ID:            c.opts.idGenerator(),
		ProviderID:    license.ProviderID,
		Compact:       license.Compact,
		Tier:          types.TierLicense,
		Jurisdiction:  license.Jurisdiction,
		LicenseType:   license.LicenseType,
		UpdateType:    updateType,
		Previous:      previousFields,
		UpdatedValues: diffFields(previousFields, newFields),
		Timestamp:     license.DateOfUpdate,
	}

	sk, err := buildUpdateSortKey(license.Compact, types.TierLicense, update.Timestamp, update.ID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	if err := c.putRecord(ctx, pk, sk, &update); err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	return nil
}

func (c *Client) rollUpProvider(ctx context.Context, pk string, license *types.License) error {
	sk, err := buildProviderSortKey(license.Compact)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidRequest, err)
	}

	input := &dynamodb.GetItemInput{
		TableName:      &c.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
		},
	}

	output, err := c.client.GetItem(ctx, input)
	if err != nil {
		return fmt.Errorf("%w: failed to read provider from table %s: %s", types.ErrInternal, c.tableName, err)
	}

	if len(output.Item) == 0 {
		provider := providerFromLicense(license)
		if err := c.putRecord(ctx, pk, sk, provider); err != nil {
			return fmt.Errorf("%w: %s", types.ErrInternal, err)
		}
		return nil
	}

	var provider types.Provider
	if err := attributevalue.UnmarshalMap(output.Item, &provider); err != nil {
		return fmt.Errorf("%w: failed to unmarshal provider record: %s", types.ErrInternal, err)
	}

	homeIngest := license.Jurisdiction == provider.LicenseJurisdiction
	eligibleMove := !homeIngest && license.CompactEligibility == types.Eligible && license.LicenseStatus == types.LicenseStatusActive

	if !homeIngest && !eligibleMove {
		return nil
	}

	previousFields, err := recordFields(&provider)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	provider.GivenName = license.GivenName
	provider.MiddleName = license.MiddleName
	provider.FamilyName = license.FamilyName
	provider.DateOfBirth = license.DateOfBirth
	provider.NPI = license.NPI
	provider.LicenseJurisdiction = license.Jurisdiction
	provider.JurisdictionUploadedLicenseStatus = license.LicenseStatus
	provider.JurisdictionUploadedCompactEligibility = license.CompactEligibility
	provider.DateOfExpiration = license.DateOfExpiration
	provider.DateOfUpdate = license.DateOfUpdate

	newFields, err := recordFields(&provider)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	changed := diffFields(previousFields, newFields)
	if len(changed) == 1 && changed["dateOfUpdate"] != nil {
		// Nothing but the update stamp moved; the re-ingest was a no-op.
		return nil
	}

	if err := c.putRecord(ctx, pk, sk, &provider); err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	update := types.Update{
		Type:          types.RecordTypeUpdate,
		ID:            c.opts.idGenerator(),
		ProviderID:    license.ProviderID,
		Compact:       license.Compact,
		Tier:          types.TierProvider,
		UpdateType:    "update",
		Previous:      previousFields,
		UpdatedValues: changed,
		Timestamp:     license.DateOfUpdate,
	}

	updateSK, err := buildUpdateSortKey(license.Compact, types.TierProvider, update.Timestamp, update.ID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	if err := c.putRecord(ctx, pk, updateSK, &update); err != nil {
		return fmt.Errorf("%w: %s", types.ErrInternal, err)
	}

	return nil
}

func providerFromLicense(license *types.License) *types.Provider {
	return &types.Provider{
		Type:                                   types.RecordTypeProvider,
		ProviderID:                             license.ProviderID,
		Compact:                                license.Compact,
		GivenName:                              license.GivenName,
		MiddleName:                             license.MiddleName,
		FamilyName:                             license.FamilyName,
		DateOfBirth:                            license.DateOfBirth,
		NPI:                                    license.NPI,
		LicenseJurisdiction:                    license.Jurisdiction,
		JurisdictionUploadedLicenseStatus:      license.LicenseStatus,
		JurisdictionUploadedCompactEligibility: license.CompactEligibility,
		DateOfExpiration:                       license.DateOfExpiration,
		DateOfUpdate:                           license.DateOfUpdate,
	}
}

// recordFields flattens a record into comparable field values via its JSON
// form, the shape stored on history snapshots.
func recordFields(record any) (map[string]any, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record for history snapshot: %w", err)
	}

	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten record for history snapshot: %w", err)
	}

	return fields, nil
}

// diffFields returns the fields of next that differ from prev, including
// fields cleared by the update (present in prev, absent in next).
func diffFields(prev, next map[string]any) map[string]any {
	changed := map[string]any{}

	for key, value := range next {
		if !reflect.DeepEqual(prev[key], value) {
			changed[key] = value
		}
	}

	for key := range prev {
		if _, ok := next[key]; !ok {
			changed[key] = nil
		}
	}

	return changed
}
