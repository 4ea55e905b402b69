package publisher_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/eventstore"
	"github.com/eventflowlabs/eventflow-go/eventstore/memoryengine"
	"github.com/eventflowlabs/eventflow-go/publisher"
)

type recordingDispatcher struct {
	dispatched event.Events
	failFor    map[string]error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{failFor: make(map[string]error)}
}

func (d *recordingDispatcher) Publish(_ context.Context, e event.Event) error {
	if err, found := d.failFor[e.EventID]; found {
		return err
	}

	d.dispatched = append(d.dispatched, e)

	return nil
}

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

func newPublisher(t *testing.T) (*publisher.Publisher, *memoryengine.EventStore, *recordingDispatcher) {
	t.Helper()

	store, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	dispatcher := newRecordingDispatcher()

	p, err := publisher.New(store, dispatcher)
	require.NoError(t, err)

	return p, store, dispatcher
}

func Test_New_ValidatesDependencies(t *testing.T) {
	store, err := memoryengine.NewEventStore()
	require.NoError(t, err)

	_, err = publisher.New(nil, newRecordingDispatcher())
	assert.ErrorIs(t, err, publisher.ErrNilStore)

	_, err = publisher.New(store, nil)
	assert.ErrorIs(t, err, publisher.ErrNilDispatcher)
}

func Test_Publisher_Publish_PersistsBeforeDispatching(t *testing.T) {
	p, store, dispatcher := newPublisher(t)
	ctx := context.Background()

	e := buildEvent(t, "order-1", 1)
	require.NoError(t, p.Publish(ctx, e))

	persisted, err := store.Events(ctx, eventstore.BuildQuery().ForAggregateID("order-1").Finalize())
	require.NoError(t, err)
	require.Len(t, persisted, 1)

	require.Len(t, dispatcher.dispatched, 1)
	assert.Equal(t, e.EventID, dispatcher.dispatched[0].EventID)
}

func Test_Publisher_Publish_SuppressesDispatchOnPersistenceFailure(t *testing.T) {
	p, _, dispatcher := newPublisher(t)
	ctx := context.Background()

	// version 2 on a fresh aggregate conflicts, so nothing may be dispatched
	err := p.Publish(ctx, buildEvent(t, "order-1", 2))
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Empty(t, dispatcher.dispatched)
}

func Test_Publisher_Publish_ReturnsDispatchFailure(t *testing.T) {
	p, store, dispatcher := newPublisher(t)
	ctx := context.Background()

	e := buildEvent(t, "order-1", 1)
	dispatcher.failFor[e.EventID] = errors.New("handler exploded")

	err := p.Publish(ctx, e)
	assert.Error(t, err)

	// the event is durable even though dispatch failed
	persisted, queryErr := store.Events(ctx, eventstore.BuildQuery().ForAggregateID("order-1").Finalize())
	require.NoError(t, queryErr)
	assert.Len(t, persisted, 1)
}

func Test_Publisher_PublishMany_ContinuesPastFailures(t *testing.T) {
	p, _, dispatcher := newPublisher(t)
	ctx := context.Background()

	good1 := buildEvent(t, "order-1", 1)
	conflicting := buildEvent(t, "order-2", 5)
	good2 := buildEvent(t, "order-3", 1)

	err := p.PublishMany(ctx, event.Events{good1, conflicting, good2})
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	require.Len(t, dispatcher.dispatched, 2)
	assert.Equal(t, good1.EventID, dispatcher.dispatched[0].EventID)
	assert.Equal(t, good2.EventID, dispatcher.dispatched[1].EventID)
}

func Test_Publisher_Add_BuffersWithoutPublishing(t *testing.T) {
	p, store, dispatcher := newPublisher(t)

	p.Add(buildEvent(t, "order-1", 1))
	p.AddMany(event.Events{buildEvent(t, "order-1", 2), buildEvent(t, "order-1", 3)})

	assert.Equal(t, 3, p.PendingCount())
	assert.Empty(t, dispatcher.dispatched)

	persisted, err := store.Events(context.Background(), eventstore.BuildQuery().Finalize())
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func Test_Publisher_PublishPending_DrainsInInsertionOrder(t *testing.T) {
	p, store, dispatcher := newPublisher(t)
	ctx := context.Background()

	for version := uint(1); version <= 3; version++ {
		p.Add(buildEvent(t, "order-1", version))
	}

	require.NoError(t, p.PublishPending(ctx))
	assert.Zero(t, p.PendingCount())

	persisted, err := store.Events(ctx, eventstore.BuildQuery().ForAggregateID("order-1").Finalize())
	require.NoError(t, err)
	require.Len(t, persisted, 3)

	require.Len(t, dispatcher.dispatched, 3)
	for idx, e := range dispatcher.dispatched {
		assert.Equal(t, uint(idx+1), e.Version)
	}
}

func Test_Publisher_PublishPending_EmptyBufferIsNoOp(t *testing.T) {
	p, _, dispatcher := newPublisher(t)

	require.NoError(t, p.PublishPending(context.Background()))
	assert.Empty(t, dispatcher.dispatched)
}

func Test_Publisher_PublishPending_SecondDrainIsNoOp(t *testing.T) {
	p, _, dispatcher := newPublisher(t)
	ctx := context.Background()

	p.Add(buildEvent(t, "order-1", 1))

	require.NoError(t, p.PublishPending(ctx))
	require.NoError(t, p.PublishPending(ctx))

	assert.Len(t, dispatcher.dispatched, 1)
}

func Test_Publisher_PublishPending_SkipsDispatchForFailedPersists(t *testing.T) {
	p, _, dispatcher := newPublisher(t)
	ctx := context.Background()

	p.Add(buildEvent(t, "order-1", 1))
	p.Add(buildEvent(t, "order-2", 9)) // conflicts: fresh aggregate must start at 1
	p.Add(buildEvent(t, "order-1", 2))

	err := p.PublishPending(ctx)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	require.Len(t, dispatcher.dispatched, 2)
	assert.Equal(t, "order-1", dispatcher.dispatched[0].AggregateID)
	assert.Equal(t, uint(1), dispatcher.dispatched[0].Version)
	assert.Equal(t, uint(2), dispatcher.dispatched[1].Version)
}

func Test_Publisher_PublishPending_KeepsConcurrentlyAddedEvents(t *testing.T) {
	p, _, dispatcher := newPublisher(t)
	ctx := context.Background()

	p.Add(buildEvent(t, "order-1", 1))
	require.NoError(t, p.PublishPending(ctx))

	// events added after the drain stay buffered for the next one
	p.Add(buildEvent(t, "order-1", 2))
	assert.Equal(t, 1, p.PendingCount())
	assert.Len(t, dispatcher.dispatched, 1)
}
