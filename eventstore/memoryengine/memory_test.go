package memoryengine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/eventstore"
	"github.com/eventflowlabs/eventflow-go/eventstore/memoryengine"
)

func buildEvent(t *testing.T, aggregateID string, version uint) event.Event {
	t.Helper()

	e, err := event.Build(
		"order.placed",
		aggregateID,
		"order",
		version,
		[]byte(fmt.Sprintf(`{"seq": %d}`, version)),
	)
	require.NoError(t, err)

	return e
}

func Test_EventStore_Append_AcceptsSequentialVersions(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	ctx := context.Background()

	for version := uint(1); version <= 3; version++ {
		require.NoError(t, es.Append(ctx, buildEvent(t, "order-1", version)))
	}

	events, err := es.Events(ctx, eventstore.BuildQuery().ForAggregateID("order-1").Finalize())
	require.NoError(t, err)
	require.Len(t, events, 3)

	for idx, e := range events {
		assert.Equal(t, uint(idx+1), e.Version)
	}
}

func Test_EventStore_Append_RejectsVersionGap(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	ctx := context.Background()

	for version := uint(1); version <= 3; version++ {
		require.NoError(t, es.Append(ctx, buildEvent(t, "order-1", version)))
	}

	err = es.Append(ctx, buildEvent(t, "order-1", 5))
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

func Test_EventStore_Append_RejectsNonInitialVersionOnFreshAggregate(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	err = es.Append(context.Background(), buildEvent(t, "order-9", 2))
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

func Test_EventStore_Append_AcceptsInitialVersionOnFreshAggregate(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	assert.NoError(t, es.Append(context.Background(), buildEvent(t, "order-9", 1)))
}

func Test_EventStore_Append_TracksVersionsPerAggregate(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, buildEvent(t, "order-1", 1)))
	require.NoError(t, es.Append(ctx, buildEvent(t, "order-2", 1)))
	require.NoError(t, es.Append(ctx, buildEvent(t, "order-1", 2)))

	err = es.Append(ctx, buildEvent(t, "order-2", 3))
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

func Test_EventStore_Events_FiltersSinceVersionExclusive(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	ctx := context.Background()

	for version := uint(1); version <= 3; version++ {
		require.NoError(t, es.Append(ctx, buildEvent(t, "order-1", version)))
	}

	query := eventstore.BuildQuery().
		ForAggregateID("order-1").
		SinceVersion(2).
		Finalize()

	events, err := es.Events(ctx, query)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint(2), events[0].Version)
	assert.Equal(t, uint(3), events[1].Version)
}

func Test_EventStore_Events_FiltersByAggregateTypeAndTimestamp(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, es.Append(ctx, buildEvent(t, "order-1", 1)))

	customerEvent, err := event.Build("customer.registered", "customer-1", "customer", 1, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, es.Append(ctx, customerEvent))

	byType, err := es.Events(ctx, eventstore.BuildQuery().ForAggregateType("customer").Finalize())
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "customer-1", byType[0].AggregateID)

	future := time.Now().Add(time.Hour)
	afterFuture, err := es.Events(ctx, eventstore.BuildQuery().SinceTimestamp(future).Finalize())
	require.NoError(t, err)
	assert.Empty(t, afterFuture)
}

func Test_EventStore_Events_AppliesLimit(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	ctx := context.Background()

	for version := uint(1); version <= 5; version++ {
		require.NoError(t, es.Append(ctx, buildEvent(t, "order-1", version)))
	}

	events, err := es.Events(ctx, eventstore.BuildQuery().WithLimit(2).Finalize())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint(1), events[0].Version)
	assert.Equal(t, uint(2), events[1].Version)
}

func Test_EventStore_Events_ReturnsEmptySliceForNoMatches(t *testing.T) {
	es, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	events, err := es.Events(context.Background(), eventstore.BuildQuery().ForAggregateID("missing").Finalize())
	require.NoError(t, err)
	assert.Empty(t, events)
}
