// Package eventbus implements the in-process subscription registry with
// priority- and topic-based dispatch. Every handler invocation runs through
// an optional middleware pipeline (retry, circuit breaking, metrics).
//
// Within one Publish call, matched handlers run sequentially in priority
// order so visible side-effect ordering is deterministic. Concurrent Publish
// calls for different events may interleave freely.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eventflowlabs/eventflow-go/event"
	"github.com/eventflowlabs/eventflow-go/eventbus/middleware"
	"github.com/eventflowlabs/eventflow-go/observability"
)

const (
	logMsgDispatchStarted  = "dispatching event"
	logMsgHandlerFailed    = "event handler failed"
	logMsgHandlerPanicked  = "event handler panicked"
	logMsgAsyncDispatch    = "async handler dispatch failed"
	logAttrError           = "error"
	logAttrEventID         = "event_id"
	logAttrEventType       = "event_type"
	logAttrTopic           = "topic"
	logAttrSubscription    = "subscription"
	logAttrSubscriberCount = "subscriber_count"
)

// ErrHandlerPanic wraps a panic recovered at the dispatch boundary so that a
// misbehaving subscriber cannot abort dispatch to the remaining handlers.
var ErrHandlerPanic = errors.New("event handler panicked")

// Bus is the subscription registry and dispatcher.
// It is safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions []*Subscription
	pipeline      *middleware.Pipeline
	logger        observability.Logger
}

// Option defines a functional option for configuring a Bus.
type Option func(*Bus) error

// WithLogger sets the structured log sink used for handler failures and
// dispatch diagnostics.
func WithLogger(logger observability.Logger) Option {
	return func(b *Bus) error {
		b.logger = logger
		return nil
	}
}

// WithPipeline sets the middleware pipeline every handler invocation runs
// through. The first registered stage is outermost.
func WithPipeline(pipeline *middleware.Pipeline) Option {
	return func(b *Bus) error {
		b.pipeline = pipeline
		return nil
	}
}

// New creates a Bus with optional configuration.
func New(options ...Option) (*Bus, error) {
	b := &Bus{}

	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Subscribe registers a handler and returns the subscription handle used for
// removal. The registry is kept sorted ascending by priority; registration
// order is preserved within equal priorities.
func (b *Bus) Subscribe(handler Handler, options ...SubscribeOption) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	sub := &Subscription{
		handler:  handler,
		priority: PriorityNormal,
		kind:     DispatchSync,
	}

	for _, option := range options {
		if err := option(sub); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := len(b.subscriptions)
	for i, existing := range b.subscriptions {
		if existing.priority > sub.priority {
			idx = i
			break
		}
	}

	b.subscriptions = append(b.subscriptions, nil)
	copy(b.subscriptions[idx+1:], b.subscriptions[idx:])
	b.subscriptions[idx] = sub

	return sub, nil
}

// Unsubscribe removes the subscription by identity. It reports whether the
// subscription was present.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.subscriptions {
		if existing == sub {
			b.subscriptions = append(b.subscriptions[:i], b.subscriptions[i+1:]...)
			return true
		}
	}

	return false
}

// SubscriptionCount returns the current registry size.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscriptions)
}

// Publish dispatches the event to all matching subscriptions sequentially in
// priority order. A handler's failure (or recovered panic) is logged and does
// not prevent the remaining handlers from running; the joined handler errors
// are returned to the caller.
func (b *Bus) Publish(ctx context.Context, e event.Event) error {
	matches := b.matchingSubscriptions(e)

	if b.logger != nil {
		b.logger.Debug(logMsgDispatchStarted,
			logAttrEventID, e.EventID,
			logAttrEventType, e.EventType,
			logAttrTopic, e.Topic,
			logAttrSubscriberCount, len(matches),
		)
	}

	var handlerErrs []error

	for _, sub := range matches {
		if sub.kind == DispatchAsync {
			go b.dispatchAsync(ctx, sub, e)
			continue
		}

		if err := b.dispatch(ctx, sub, e); err != nil {
			b.logHandlerFailure(sub, e, err)
			handlerErrs = append(handlerErrs, err)
		}
	}

	return errors.Join(handlerErrs...)
}

// PublishMany dispatches the events sequentially in order. Dispatch is
// best-effort: a failing event does not stop the remaining ones, and the
// joined errors are returned.
func (b *Bus) PublishMany(ctx context.Context, events event.Events) error {
	var errs []error

	for _, e := range events {
		if err := b.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// matchingSubscriptions snapshots the subscriptions matching the event.
// The registry is already sorted by priority, so the snapshot preserves
// dispatch order.
func (b *Bus) matchingSubscriptions(e event.Event) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matches := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.matches(e) {
			matches = append(matches, sub)
		}
	}

	return matches
}

// dispatch runs one handler invocation through the middleware pipeline,
// converting panics into errors at the boundary.
func (b *Bus) dispatch(ctx context.Context, sub *Subscription, e event.Event) error {
	terminal := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Join(ErrHandlerPanic, fmt.Errorf("%v", r))
			}
		}()

		return sub.handler.Handle(ctx, e)
	}

	if b.pipeline == nil {
		return terminal(ctx)
	}

	mctx := &middleware.Context{
		Event:       e,
		HandlerName: sub.name,
		Metadata:    map[string]any{},
	}

	return b.pipeline.Execute(ctx, mctx, terminal)
}

// dispatchAsync runs the handler on its own goroutine; the failure is logged
// but never surfaces to the publish caller.
func (b *Bus) dispatchAsync(ctx context.Context, sub *Subscription, e event.Event) {
	if err := b.dispatch(ctx, sub, e); err != nil {
		if b.logger != nil {
			b.logger.Error(logMsgAsyncDispatch,
				logAttrError, err.Error(),
				logAttrEventID, e.EventID,
				logAttrEventType, e.EventType,
				logAttrSubscription, sub.name,
			)
		}
	}
}

func (b *Bus) logHandlerFailure(sub *Subscription, e event.Event, err error) {
	if b.logger == nil {
		return
	}

	msg := logMsgHandlerFailed
	if errors.Is(err, ErrHandlerPanic) {
		msg = logMsgHandlerPanicked
	}

	b.logger.Error(msg,
		logAttrError, err.Error(),
		logAttrEventID, e.EventID,
		logAttrEventType, e.EventType,
		logAttrSubscription, sub.name,
	)
}
