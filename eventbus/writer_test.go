//nolint:testpackage // Mock must be in package eventbus to access unexported types.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compactmgr/engine/types"
)

// mockEventBridge is a mock implementation of API for testing.
type mockEventBridge struct {
	putEventsFunc func(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

func (m *mockEventBridge) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	if m.putEventsFunc != nil {
		return m.putEventsFunc(ctx, params, optFns...)
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func newTestWriter(t *testing.T, mock *mockEventBridge, opts ...Option) *Writer {
	t.Helper()

	cfg := aws.Config{}
	writer, err := NewWriter(&cfg, "test-bus", types.NopLogger{}, append(opts, WithAPI(mock))...)
	require.NoError(t, err)
	return writer
}

func testEvent(n int) types.DomainEvent {
	return types.DomainEvent{
		Type:       types.EventTypeLicenseIngest,
		Compact:    "aslp",
		ProviderID: fmt.Sprintf("provider-%d", n),
		EventTime:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestWriter_FlushesAtThreshold(t *testing.T) {
	t.Parallel()

	var batchSizes []int
	mock := &mockEventBridge{
		putEventsFunc: func(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			batchSizes = append(batchSizes, len(params.Entries))
			return &eventbridge.PutEventsOutput{}, nil
		},
	}
	writer := newTestWriter(t, mock)

	for i := 0; i < 23; i++ {
		require.NoError(t, writer.Add(context.Background(), testEvent(i)))
	}
	require.NoError(t, writer.Close(context.Background()))

	assert.Equal(t, []int{10, 10, 3}, batchSizes)
	assert.Zero(t, writer.FailedEntryCount())
}

func TestWriter_CloseWithNothingPendingMakesNoCall(t *testing.T) {
	t.Parallel()

	calls := 0
	mock := &mockEventBridge{
		putEventsFunc: func(_ context.Context, _ *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			calls++
			return &eventbridge.PutEventsOutput{}, nil
		},
	}
	writer := newTestWriter(t, mock)

	require.NoError(t, writer.Close(context.Background()))
	assert.Zero(t, calls)
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	mock := &mockEventBridge{
		putEventsFunc: func(_ context.Context, _ *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			calls++
			return &eventbridge.PutEventsOutput{}, nil
		},
	}
	writer := newTestWriter(t, mock)

	require.NoError(t, writer.Add(context.Background(), testEvent(1)))
	require.NoError(t, writer.Close(context.Background()))
	require.NoError(t, writer.Close(context.Background()))

	assert.Equal(t, 1, calls)
}

func TestWriter_AddAfterClose(t *testing.T) {
	t.Parallel()

	writer := newTestWriter(t, &mockEventBridge{})
	require.NoError(t, writer.Close(context.Background()))

	err := writer.Add(context.Background(), testEvent(1))
	assert.Error(t, err)
}

func TestWriter_RecordsPartialFailuresWithoutRaising(t *testing.T) {
	t.Parallel()

	mock := &mockEventBridge{
		putEventsFunc: func(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			results := make([]eventbridgetypes.PutEventsResultEntry, len(params.Entries))
			// The second entry of the batch is rejected.
			results[1] = eventbridgetypes.PutEventsResultEntry{
				ErrorCode:    aws.String("ThrottlingException"),
				ErrorMessage: aws.String("rate exceeded"),
			}
			return &eventbridge.PutEventsOutput{
				FailedEntryCount: 1,
				Entries:          results,
			}, nil
		},
	}
	writer := newTestWriter(t, mock, WithBatchSize(3))

	for i := 0; i < 3; i++ {
		require.NoError(t, writer.Add(context.Background(), testEvent(i)))
	}
	require.NoError(t, writer.Close(context.Background()))

	assert.Equal(t, 1, writer.FailedEntryCount())

	failed := writer.FailedEntries()
	require.Len(t, failed, 1)
	assert.Equal(t, "ThrottlingException", failed[0].ErrorCode)
	assert.Equal(t, "provider-1", failed[0].Event.ProviderID)
}

func TestWriter_TransportErrorRaises(t *testing.T) {
	t.Parallel()

	mock := &mockEventBridge{
		putEventsFunc: func(_ context.Context, _ *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			return nil, errors.New("connection reset")
		},
	}
	writer := newTestWriter(t, mock, WithBatchSize(1))

	err := writer.Add(context.Background(), testEvent(1))
	assert.Error(t, err)
}

func TestWriter_RejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	writer := newTestWriter(t, &mockEventBridge{})

	err := writer.Add(context.Background(), types.DomainEvent{Type: types.EventTypeLicenseIngest})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestWriter_EntriesCarryBusAndSource(t *testing.T) {
	t.Parallel()

	var captured *eventbridge.PutEventsInput
	mock := &mockEventBridge{
		putEventsFunc: func(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
			captured = params
			return &eventbridge.PutEventsOutput{}, nil
		},
	}
	writer := newTestWriter(t, mock, WithBatchSize(1))

	require.NoError(t, writer.Add(context.Background(), testEvent(1)))

	require.NotNil(t, captured)
	entry := captured.Entries[0]
	assert.Equal(t, "test-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, types.EventSource, aws.ToString(entry.Source))
	assert.Equal(t, string(types.EventTypeLicenseIngest), aws.ToString(entry.DetailType))
	assert.Contains(t, aws.ToString(entry.Detail), `"providerId":"provider-1"`)
}

func TestNewWriter_InvalidBatchSize(t *testing.T) {
	t.Parallel()

	cfg := aws.Config{}
	_, err := NewWriter(&cfg, "test-bus", types.NopLogger{}, WithBatchSize(11))
	assert.Error(t, err)

	_, err = NewWriter(&cfg, "test-bus", types.NopLogger{}, WithBatchSize(0))
	assert.Error(t, err)
}
