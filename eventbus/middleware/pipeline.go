// Package middleware provides the composable pipeline that wraps every
// handler invocation on the event bus, plus the retry, circuit-breaker and
// metrics stages that plug into it.
//
// A pipeline is an ordered list of stages; stages nest in registration order,
// so the first-registered stage is outermost. A stage may short-circuit
// (skip next), wrap or retry calls to next, or merely observe.
package middleware

import (
	"context"

	"github.com/eventflowlabs/eventflow-go/event"
)

// Log attribute names shared by the stages in this package.
const (
	logAttrError     = "error"
	logAttrEventType = "event_type"
	logAttrKey       = "key"
)

// Context carries the event and per-dispatch metadata through the pipeline.
type Context struct {
	Event       event.Event
	HandlerName string
	Metadata    map[string]any
}

// Key returns the per-key identity used by stateful stages (breakers,
// metrics): the handler name when the subscription has one, the event type
// otherwise.
func (c *Context) Key() string {
	if c.HandlerName != "" {
		return c.HandlerName
	}

	return c.Event.EventType
}

// Next is the continuation a stage invokes to run the rest of the pipeline.
type Next func(ctx context.Context) error

// Middleware is a single pipeline stage.
type Middleware interface {
	Process(ctx context.Context, mctx *Context, next Next) error
}

// Pipeline composes stages around a terminal handler call.
type Pipeline struct {
	stages []Middleware
}

// NewPipeline creates a pipeline from the given stages, first stage outermost.
func NewPipeline(stages ...Middleware) *Pipeline {
	return &Pipeline{stages: stages}
}

// Use appends a stage; it becomes the innermost registered stage so far.
func (p *Pipeline) Use(stage Middleware) *Pipeline {
	p.stages = append(p.stages, stage)
	return p
}

// Execute runs the pipeline around the terminal call.
func (p *Pipeline) Execute(ctx context.Context, mctx *Context, terminal Next) error {
	next := terminal

	for i := len(p.stages) - 1; i >= 0; i-- {
		stage := p.stages[i]
		inner := next
		next = func(ctx context.Context) error {
			return stage.Process(ctx, mctx, inner)
		}
	}

	return next(ctx)
}
