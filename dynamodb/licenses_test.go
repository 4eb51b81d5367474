//nolint:testpackage // Tests need access to unexported helpers.
package dynamodb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/compactmgr/engine/types"
)

func testLicense() *types.License {
	return &types.License{
		ProviderID:         "provider-1",
		Compact:            "aslp",
		Jurisdiction:       "oh",
		LicenseType:        "slp",
		GivenName:          "Jordan",
		FamilyName:         "Smith",
		LicenseStatus:      types.LicenseStatusActive,
		CompactEligibility: types.Eligible,
		DateOfIssuance:     "2020-01-01",
		DateOfExpiration:   "2025-06-30",
	}
}

// capturingMock routes GetItem by sort key and records every put, keyed by
// the written item's sort key.
type capturingMock struct {
	existingLicense  *types.License
	existingProvider *types.Provider

	puts map[string]map[string]dynamodbtypes.AttributeValue
}

func (c *capturingMock) api(t *testing.T) *mockAPI {
	t.Helper()
	c.puts = map[string]map[string]dynamodbtypes.AttributeValue{}

	return &mockAPI{
		getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			sk := params.Key[SortKey].(*dynamodbtypes.AttributeValueMemberS).Value

			switch {
			case strings.Contains(sk, "#LICENSE#") && c.existingLicense != nil:
				item, err := attributevalue.MarshalMap(c.existingLicense)
				if err != nil {
					t.Fatalf("failed to marshal existing license: %v", err)
				}
				return &dynamodb.GetItemOutput{Item: item}, nil

			case sk == "aslp#PROVIDER" && c.existingProvider != nil:
				item, err := attributevalue.MarshalMap(c.existingProvider)
				if err != nil {
					t.Fatalf("failed to marshal existing provider: %v", err)
				}
				return &dynamodb.GetItemOutput{Item: item}, nil
			}

			return &dynamodb.GetItemOutput{}, nil
		},
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			sk := params.Item[SortKey].(*dynamodbtypes.AttributeValueMemberS).Value
			c.puts[sk] = params.Item
			return &dynamodb.PutItemOutput{}, nil
		},
	}
}

func (c *capturingMock) putsWithPrefix(prefix string) []map[string]dynamodbtypes.AttributeValue {
	var matched []map[string]dynamodbtypes.AttributeValue
	for sk, item := range c.puts {
		if strings.HasPrefix(sk, prefix) {
			matched = append(matched, item)
		}
	}
	return matched
}

// ==================== PutLicense Tests ====================

func TestPutLicense_CreatesProviderAndHistory(t *testing.T) {
	t.Parallel()
	capture := &capturingMock{}
	client := newTestClient(t, capture.api(t))

	if err := client.PutLicense(context.Background(), testLicense()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := capture.puts["aslp#LICENSE#oh#slp"]; !ok {
		t.Error("expected license record written")
	}

	providerItem, ok := capture.puts["aslp#PROVIDER"]
	if !ok {
		t.Fatal("expected provider record created from the license")
	}
	var provider types.Provider
	if err := attributevalue.UnmarshalMap(providerItem, &provider); err != nil {
		t.Fatalf("failed to unmarshal written provider: %v", err)
	}
	if provider.LicenseJurisdiction != "oh" {
		t.Errorf("expected home jurisdiction oh, got %s", provider.LicenseJurisdiction)
	}
	if provider.GivenName != "Jordan" || provider.FamilyName != "Smith" {
		t.Errorf("expected mirrored name fields, got %s %s", provider.GivenName, provider.FamilyName)
	}

	history := capture.putsWithPrefix("aslp#UPDATE#3#")
	if len(history) != 1 {
		t.Fatalf("expected 1 license history snapshot, got %d", len(history))
	}
	var update types.Update
	if err := attributevalue.UnmarshalMap(history[0], &update); err != nil {
		t.Fatalf("failed to unmarshal history snapshot: %v", err)
	}
	if update.UpdateType != "creation" {
		t.Errorf("expected creation snapshot, got %s", update.UpdateType)
	}
	if len(update.Previous) != 0 {
		t.Errorf("expected empty previous state on creation, got %v", update.Previous)
	}
}

func TestPutLicense_HomeIngestRefreshesProvider(t *testing.T) {
	t.Parallel()
	existing := testLicense()
	existing.Type = types.RecordTypeLicense
	existing.DateOfUpdate = testClock.Add(-24 * time.Hour)

	provider := providerFromLicense(existing)

	capture := &capturingMock{existingLicense: existing, existingProvider: provider}
	client := newTestClient(t, capture.api(t))

	renewed := testLicense()
	renewed.DateOfExpiration = "2026-06-30"

	if err := client.PutLicense(context.Background(), renewed); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	providerItem, ok := capture.puts["aslp#PROVIDER"]
	if !ok {
		t.Fatal("expected provider refresh write")
	}
	var refreshed types.Provider
	if err := attributevalue.UnmarshalMap(providerItem, &refreshed); err != nil {
		t.Fatalf("failed to unmarshal refreshed provider: %v", err)
	}
	if refreshed.DateOfExpiration != "2026-06-30" {
		t.Errorf("expected refreshed expiration, got %s", refreshed.DateOfExpiration)
	}

	licenseHistory := capture.putsWithPrefix("aslp#UPDATE#3#")
	if len(licenseHistory) != 1 {
		t.Errorf("expected 1 license history snapshot, got %d", len(licenseHistory))
	}
	providerHistory := capture.putsWithPrefix("aslp#UPDATE#2#")
	if len(providerHistory) != 1 {
		t.Fatalf("expected 1 provider history snapshot, got %d", len(providerHistory))
	}

	var update types.Update
	if err := attributevalue.UnmarshalMap(providerHistory[0], &update); err != nil {
		t.Fatalf("failed to unmarshal provider snapshot: %v", err)
	}
	if update.UpdatedValues["dateOfExpiration"] != "2026-06-30" {
		t.Errorf("expected diff to carry new expiration, got %v", update.UpdatedValues)
	}
}

func TestPutLicense_UnchangedHomeIngestSkipsProviderWrite(t *testing.T) {
	t.Parallel()
	existing := testLicense()
	existing.Type = types.RecordTypeLicense
	existing.DateOfUpdate = testClock.Add(-24 * time.Hour)

	provider := providerFromLicense(existing)

	capture := &capturingMock{existingLicense: existing, existingProvider: provider}
	client := newTestClient(t, capture.api(t))

	if err := client.PutLicense(context.Background(), testLicense()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := capture.puts["aslp#PROVIDER"]; ok {
		t.Error("expected no provider write for unchanged re-ingest")
	}
	if history := capture.putsWithPrefix("aslp#UPDATE#2#"); len(history) != 0 {
		t.Errorf("expected no provider history for unchanged re-ingest, got %d", len(history))
	}
}

func TestPutLicense_EligibleOtherJurisdictionMovesHome(t *testing.T) {
	t.Parallel()
	provider := providerFromLicense(testLicense())
	provider.DateOfUpdate = testClock.Add(-24 * time.Hour)

	capture := &capturingMock{existingProvider: provider}
	client := newTestClient(t, capture.api(t))

	incoming := testLicense()
	incoming.Jurisdiction = "ky"

	if err := client.PutLicense(context.Background(), incoming); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	providerItem, ok := capture.puts["aslp#PROVIDER"]
	if !ok {
		t.Fatal("expected provider write for home move")
	}
	var moved types.Provider
	if err := attributevalue.UnmarshalMap(providerItem, &moved); err != nil {
		t.Fatalf("failed to unmarshal provider: %v", err)
	}
	if moved.LicenseJurisdiction != "ky" {
		t.Errorf("expected home jurisdiction moved to ky, got %s", moved.LicenseJurisdiction)
	}
}

func TestPutLicense_IneligibleOtherJurisdictionKeepsHome(t *testing.T) {
	t.Parallel()
	provider := providerFromLicense(testLicense())

	capture := &capturingMock{existingProvider: provider}
	client := newTestClient(t, capture.api(t))

	incoming := testLicense()
	incoming.Jurisdiction = "ky"
	incoming.CompactEligibility = types.Ineligible

	if err := client.PutLicense(context.Background(), incoming); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := capture.puts["aslp#LICENSE#ky#slp"]; !ok {
		t.Error("expected license stored despite ineligibility")
	}
	if _, ok := capture.puts["aslp#PROVIDER"]; ok {
		t.Error("expected home jurisdiction untouched by ineligible license")
	}
}

func TestPutLicense_Invalid(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, &mockAPI{})

	license := testLicense()
	license.LicenseStatus = "revoked"

	err := client.PutLicense(context.Background(), license)
	if !errors.Is(err, types.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	var validationErr *types.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if _, ok := validationErr.Fields["licenseStatus"]; !ok {
		t.Errorf("expected licenseStatus field error, got %v", validationErr.Fields)
	}
}
