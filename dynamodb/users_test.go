//nolint:testpackage // Tests need access to unexported helpers.
package dynamodb

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/compactmgr/engine/types"
)

// ==================== User Permission Tests ====================

func TestGetUserPermissions_ReturnsAllCompacts(t *testing.T) {
	t.Parallel()
	var capturedTable string
	mock := &mockAPI{
		queryFunc: func(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			capturedTable = *params.TableName

			aslp, err := attributevalue.MarshalMap(&types.UserPermission{
				UserID:         "user-1",
				Compact:        "aslp",
				CompactActions: []string{"readGeneral"},
			})
			if err != nil {
				t.Fatalf("failed to marshal permission: %v", err)
			}
			octp, err := attributevalue.MarshalMap(&types.UserPermission{
				UserID:  "user-1",
				Compact: "octp",
				JurisdictionActions: map[string][]string{
					"oh": {"write"},
				},
			})
			if err != nil {
				t.Fatalf("failed to marshal permission: %v", err)
			}

			return &dynamodb.QueryOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{aslp, octp},
			}, nil
		},
	}

	client := newTestClient(t, mock)

	permissions, err := client.GetUserPermissions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(permissions) != 2 {
		t.Fatalf("expected 2 permission records, got %d", len(permissions))
	}
	if capturedTable != "users" {
		t.Errorf("expected default users table, got %s", capturedTable)
	}
	if permissions[1].JurisdictionActions["oh"][0] != "write" {
		t.Errorf("unexpected jurisdiction actions %v", permissions[1].JurisdictionActions)
	}
}

func TestGetUserPermissions_NoneIsNotFound(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		queryFunc: func(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{}, nil
		},
	}
	client := newTestClient(t, mock)

	_, err := client.GetUserPermissions(context.Background(), "user-1")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserPermission_SingleCompact(t *testing.T) {
	t.Parallel()
	var capturedKey map[string]dynamodbtypes.AttributeValue
	mock := &mockAPI{
		getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			capturedKey = params.Key
			item, err := attributevalue.MarshalMap(&types.UserPermission{
				UserID:         "user-1",
				Compact:        "aslp",
				CompactActions: []string{"admin"},
			})
			if err != nil {
				t.Fatalf("failed to marshal permission: %v", err)
			}
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
	}
	client := newTestClient(t, mock)

	permission, err := client.GetUserPermission(context.Background(), "user-1", "aslp")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if permission.CompactActions[0] != "admin" {
		t.Errorf("unexpected compact actions %v", permission.CompactActions)
	}

	pk := capturedKey[PartitionKey].(*dynamodbtypes.AttributeValueMemberS)
	sk := capturedKey[SortKey].(*dynamodbtypes.AttributeValueMemberS)
	if pk.Value != "USER#user-1" || sk.Value != "COMPACT#aslp" {
		t.Errorf("unexpected key %s/%s", pk.Value, sk.Value)
	}
}

func TestGetUserPermission_NotFound(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, &mockAPI{})

	_, err := client.GetUserPermission(context.Background(), "user-1", "aslp")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
