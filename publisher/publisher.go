// Package publisher combines durable persistence with bus dispatch under a
// write-ahead-then-notify contract: an event reaches handlers only after it
// has been appended to the store.
package publisher

import (
	"context"
	"errors"
	"sync"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/eventstore"
	"github.com/eventflowlabs/eventflow-go/observability"
)

var (
	// ErrNilStore occurs when New is called without an event store.
	ErrNilStore = errors.New("event store must not be nil")

	// ErrNilDispatcher occurs when New is called without a dispatcher.
	ErrNilDispatcher = errors.New("dispatcher must not be nil")
)

const (
	logMsgPersistFailed   = "persisting event failed, dispatch suppressed"
	logMsgDispatchFailed  = "dispatching event failed"
	logMsgPendingDrained  = "pending events drained"
	logAttrError          = "error"
	logAttrEventType      = "event_type"
	logAttrAggregateID    = "aggregate_id"
	logAttrVersion        = "version"
	logAttrPendingCount   = "pending_count"
	logAttrPersistedCount = "persisted_count"
)

// Dispatcher delivers an already-persisted event to its subscribers.
// *eventbus.Bus satisfies it.
type Dispatcher interface {
	Publish(ctx context.Context, e event.Event) error
}

// Publisher persists events before dispatching them. It can publish
// immediately or buffer events and drain them later in insertion order.
// It is safe for concurrent use.
type Publisher struct {
	store      eventstore.Store
	dispatcher Dispatcher
	logger     observability.Logger

	mu      sync.Mutex
	pending event.Events
}

// Option defines a functional option for configuring Publisher.
type Option func(*Publisher) error

// WithLogger sets the structured log sink for publish diagnostics.
func WithLogger(logger observability.Logger) Option {
	return func(p *Publisher) error {
		p.logger = logger
		return nil
	}
}

// New creates a Publisher over the given store and dispatcher.
func New(store eventstore.Store, dispatcher Dispatcher, options ...Option) (*Publisher, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}

	p := &Publisher{
		store:      store,
		dispatcher: dispatcher,
	}

	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Add buffers an event without publishing it, preserving insertion order.
func (p *Publisher) Add(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, e)
}

// AddMany buffers events without publishing them, preserving order.
func (p *Publisher) AddMany(events event.Events) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, events...)
}

// PendingCount returns the number of buffered events.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pending)
}

// PublishPending drains the buffer: it swaps the pending slice out under the
// lock so concurrently added events are neither lost nor double-published,
// persists all drained events in order, then dispatches the persisted ones
// in the same order. Failures are collected per event; one event's failure
// does not stop the rest. Draining an empty buffer is a no-op.
func (p *Publisher) PublishPending(ctx context.Context) error {
	p.mu.Lock()
	drained := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	var errs []error
	persisted := make(event.Events, 0, len(drained))

	for _, e := range drained {
		if appendErr := p.store.Append(ctx, e); appendErr != nil {
			p.logFailure(logMsgPersistFailed, e, appendErr)
			errs = append(errs, appendErr)
			continue
		}

		persisted = append(persisted, e)
	}

	for _, e := range persisted {
		if dispatchErr := p.dispatcher.Publish(ctx, e); dispatchErr != nil {
			p.logFailure(logMsgDispatchFailed, e, dispatchErr)
			errs = append(errs, dispatchErr)
		}
	}

	if p.logger != nil {
		p.logger.Info(logMsgPendingDrained,
			logAttrPendingCount, len(drained),
			logAttrPersistedCount, len(persisted),
		)
	}

	return errors.Join(errs...)
}

// Publish persists the event and then dispatches it. A persistence failure
// suppresses dispatch entirely.
func (p *Publisher) Publish(ctx context.Context, e event.Event) error {
	if appendErr := p.store.Append(ctx, e); appendErr != nil {
		p.logFailure(logMsgPersistFailed, e, appendErr)
		return appendErr
	}

	if dispatchErr := p.dispatcher.Publish(ctx, e); dispatchErr != nil {
		p.logFailure(logMsgDispatchFailed, e, dispatchErr)
		return dispatchErr
	}

	return nil
}

// PublishMany publishes events sequentially in order. One event's failure
// does not stop the rest; all failures are joined into the returned error.
func (p *Publisher) PublishMany(ctx context.Context, events event.Events) error {
	var errs []error

	for _, e := range events {
		if publishErr := p.Publish(ctx, e); publishErr != nil {
			errs = append(errs, publishErr)
		}
	}

	return errors.Join(errs...)
}

func (p *Publisher) logFailure(msg string, e event.Event, err error) {
	if p.logger == nil {
		return
	}

	p.logger.Error(msg,
		logAttrError, err.Error(),
		logAttrEventType, e.EventType,
		logAttrAggregateID, e.AggregateID,
		logAttrVersion, e.Version,
	)
}
