//nolint:testpackage // Tests need access to unexported helpers.
package dynamodb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/compactmgr/engine/types"
)

func testAdverseAction() *types.AdverseAction {
	return &types.AdverseAction{
		ProviderID:         "provider-1",
		Compact:            "aslp",
		Jurisdiction:       "oh",
		LicenseType:        "slp",
		ActionAgainst:      "license",
		EffectiveStartDate: "2024-01-01",
	}
}

// ==================== Adverse Action Tests ====================

func TestCreateAdverseAction_MarksProviderEncumbered(t *testing.T) {
	t.Parallel()
	var capturedPut *dynamodb.PutItemInput
	var capturedUpdate *dynamodb.UpdateItemInput
	mock := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			capturedPut = params
			return &dynamodb.PutItemOutput{}, nil
		},
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			capturedUpdate = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	client := newTestClient(t, mock)

	action := testAdverseAction()
	if err := client.CreateAdverseAction(context.Background(), action); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if action.ID == "" {
		t.Error("expected an id to be minted")
	}

	sk := capturedPut.Item[SortKey].(*dynamodbtypes.AttributeValueMemberS)
	if !strings.HasPrefix(sk.Value, "aslp#ADVERSE#oh#slp#") {
		t.Errorf("unexpected adverse action sort key %s", sk.Value)
	}

	status := capturedUpdate.ExpressionAttributeValues[":status"].(*dynamodbtypes.AttributeValueMemberS)
	if status.Value != string(types.Encumbered) {
		t.Errorf("expected provider marked encumbered, got %s", status.Value)
	}
}

func TestCreateAdverseAction_Invalid(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, &mockAPI{})

	action := testAdverseAction()
	action.ActionAgainst = "registration"

	err := client.CreateAdverseAction(context.Background(), action)
	if !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestLiftAdverseAction_LastLiftUnencumbers(t *testing.T) {
	t.Parallel()
	lifted := testAdverseAction()
	lifted.Type = types.RecordTypeAdverseAction
	lifted.ID = "a1"
	lifted.EffectiveLiftDate = "2024-02-01"

	var statusUpdates []string
	mock := &mockAPI{
		queryFunc: func(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			// After the lift, the only action on record is already lifted.
			return &dynamodb.QueryOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{
					marshalRecord(t, "aslp#PROVIDER#provider-1", "aslp#ADVERSE#oh#slp#a1", lifted),
				},
			}, nil
		},
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			if status, ok := params.ExpressionAttributeValues[":status"]; ok {
				statusUpdates = append(statusUpdates, status.(*dynamodbtypes.AttributeValueMemberS).Value)
			}
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	client := newTestClient(t, mock)

	err := client.LiftAdverseAction(context.Background(), "aslp", "provider-1", "oh", "slp", "a1", "2024-02-01", "admin@oh.gov")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(statusUpdates) != 1 || statusUpdates[0] != string(types.Unencumbered) {
		t.Errorf("expected provider returned to unencumbered, got %v", statusUpdates)
	}
}

func TestLiftAdverseAction_OthersRemainEncumbered(t *testing.T) {
	t.Parallel()
	remaining := testAdverseAction()
	remaining.Type = types.RecordTypeAdverseAction
	remaining.ID = "a2"

	statusUpdates := 0
	mock := &mockAPI{
		queryFunc: func(_ context.Context, _ *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{
				Items: []map[string]dynamodbtypes.AttributeValue{
					marshalRecord(t, "aslp#PROVIDER#provider-1", "aslp#ADVERSE#oh#slp#a2", remaining),
				},
			}, nil
		},
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			if _, ok := params.ExpressionAttributeValues[":status"]; ok {
				statusUpdates++
			}
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	client := newTestClient(t, mock)

	err := client.LiftAdverseAction(context.Background(), "aslp", "provider-1", "oh", "slp", "a1", "2024-02-01", "admin@oh.gov")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if statusUpdates != 0 {
		t.Error("expected provider to stay encumbered while actions remain")
	}
}

func TestLiftAdverseAction_AlreadyLifted(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{}
		},
	}
	client := newTestClient(t, mock)

	err := client.LiftAdverseAction(context.Background(), "aslp", "provider-1", "oh", "slp", "a1", "2024-02-01", "admin@oh.gov")
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

// ==================== Investigation Tests ====================

func TestCreateInvestigation_Success(t *testing.T) {
	t.Parallel()
	var capturedPut *dynamodb.PutItemInput
	updateCalled := false
	mock := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			capturedPut = params
			return &dynamodb.PutItemOutput{}, nil
		},
		updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			updateCalled = true
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	client := newTestClient(t, mock)

	investigation := &types.Investigation{
		ProviderID:   "provider-1",
		Compact:      "aslp",
		Jurisdiction: "oh",
	}
	if err := client.CreateInvestigation(context.Background(), investigation); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	sk := capturedPut.Item[SortKey].(*dynamodbtypes.AttributeValueMemberS)
	if !strings.HasPrefix(sk.Value, "aslp#INVESTIGATION#oh#") {
		t.Errorf("unexpected investigation sort key %s", sk.Value)
	}
	if updateCalled {
		t.Error("expected investigations not to touch the provider record")
	}
}

func TestCloseInvestigation_Terminal(t *testing.T) {
	t.Parallel()
	var capturedUpdate *dynamodb.UpdateItemInput
	mock := &mockAPI{
		updateItemFunc: func(_ context.Context, params *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			capturedUpdate = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	client := newTestClient(t, mock)

	err := client.CloseInvestigation(context.Background(), "aslp", "provider-1", "oh", "i1", "2024-03-01", "admin@oh.gov")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	condition := aws.ToString(capturedUpdate.ConditionExpression)
	if !strings.Contains(condition, "attribute_not_exists(closeDate)") {
		t.Errorf("expected terminal close condition, got %s", condition)
	}
}

func TestCloseInvestigation_AlreadyClosed(t *testing.T) {
	t.Parallel()
	mock := &mockAPI{
		updateItemFunc: func(_ context.Context, _ *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{}
		},
	}
	client := newTestClient(t, mock)

	err := client.CloseInvestigation(context.Background(), "aslp", "provider-1", "oh", "i1", "2024-03-01", "admin@oh.gov")
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}
