package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/eventstore"
)

func Test_StoredEvent_RoundTripsDomainEvent(t *testing.T) {
	original, err := event.Build("order.placed", "order-1", "order", 3, []byte(`{"total": 42}`))
	require.NoError(t, err)

	original = original.
		WithCorrelation("corr-1").
		WithCausation("cause-1").
		WithTopic("orders.eu")

	stored := eventstore.FromEvent(original)

	assert.Equal(t, original.EventID, stored.EventID)
	assert.Equal(t, original.Version, stored.Version)
	assert.Equal(t, eventstore.HashPayload(original.Payload), stored.EventHash)

	restored, err := stored.ToEvent()
	require.NoError(t, err)

	assert.Equal(t, original.EventID, restored.EventID)
	assert.Equal(t, original.EventType, restored.EventType)
	assert.Equal(t, original.AggregateID, restored.AggregateID)
	assert.Equal(t, original.AggregateType, restored.AggregateType)
	assert.Equal(t, original.Version, restored.Version)
	assert.True(t, original.OccurredAt.Equal(restored.OccurredAt))
	assert.Equal(t, original.CorrelationID, restored.CorrelationID)
	assert.Equal(t, original.CausationID, restored.CausationID)
	assert.Equal(t, original.Topic, restored.Topic)
	assert.JSONEq(t, string(original.Payload), string(restored.Payload))
}

func Test_StoredEvent_ToEvent_RejectsInvalidRow(t *testing.T) {
	stored := eventstore.StoredEvent{
		EventID:       "some-id",
		AggregateID:   "order-1",
		AggregateType: "order",
		EventType:     "order.placed",
		Version:       0, // never valid in a stored row
		Payload:       []byte(`{}`),
	}

	_, err := stored.ToEvent()
	assert.Error(t, err)
}

func Test_HashPayload_IsDeterministic(t *testing.T) {
	first := eventstore.HashPayload([]byte(`{"total": 42}`))
	second := eventstore.HashPayload([]byte(`{"total": 42}`))
	different := eventstore.HashPayload([]byte(`{"total": 43}`))

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, different)
	assert.Len(t, first, 64)
}
