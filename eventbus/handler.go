package eventbus

import (
	"context"

	"github.com/eventflowlabs/eventflow-go/event"
)

// Handler is the capability consumed by the bus for every subscription.
//
// CanHandle lets a handler widen or narrow the match beyond the exact
// event-type filter of its subscription; most implementations return true.
type Handler interface {
	Handle(ctx context.Context, e event.Event) error
	CanHandle(e event.Event) bool
}

// HandlerFunc adapts a plain function to the Handler interface.
// The adapted handler accepts every event passed to it.
type HandlerFunc func(ctx context.Context, e event.Event) error

// Handle invokes the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, e event.Event) error {
	return f(ctx, e)
}

// CanHandle always reports true; filtering is left to the subscription.
func (f HandlerFunc) CanHandle(event.Event) bool {
	return true
}
