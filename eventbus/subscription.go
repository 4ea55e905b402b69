package eventbus

import (
	"errors"
	"regexp"

	"github.com/eventflowlabs/eventflow-go/event"
)

var (
	// ErrNilHandler is returned when a subscription is created without a handler.
	ErrNilHandler = errors.New("subscription handler must not be nil")

	// ErrInvalidTopicPattern is returned when a topic pattern does not compile.
	ErrInvalidTopicPattern = errors.New("topic pattern is not a valid regular expression")
)

// Priority orders subscriptions within a single publish call.
// Lower values dispatch first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// String provides a string representation of Priority for logging.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// DispatchKind selects how a matched handler is invoked during publish.
type DispatchKind int

const (
	// DispatchSync invokes the handler inline, in priority order.
	DispatchSync DispatchKind = iota

	// DispatchAsync invokes the handler on its own goroutine; failures are
	// logged but never surface to the publish caller.
	DispatchAsync
)

// Subscription is an entry in the bus registry. It is owned by the bus and
// lives until explicitly unsubscribed; the *Subscription returned by
// Subscribe is the identity used for removal.
//
// The handler kind, topic pattern and filters are resolved once at
// subscription time, not per dispatch.
type Subscription struct {
	handler      Handler
	name         string
	eventType    string
	topicPattern *regexp.Regexp
	priority     Priority
	kind         DispatchKind
}

// Name returns the subscription's display name used in logs and as the
// default per-key pipeline key.
func (s *Subscription) Name() string {
	return s.name
}

// Priority returns the subscription's dispatch priority.
func (s *Subscription) Priority() Priority {
	return s.priority
}

// matches reports whether the subscription wants the given event:
// the event-type filter (when set) must equal the event's type, the topic
// pattern (when set) must match the event's topic (a topic-less event never
// matches a pattern), and the handler's CanHandle must agree.
func (s *Subscription) matches(e event.Event) bool {
	if s.eventType != "" && s.eventType != e.EventType {
		return false
	}

	if s.topicPattern != nil {
		if e.Topic == "" {
			return false
		}

		if !s.topicPattern.MatchString(e.Topic) {
			return false
		}
	}

	return s.handler.CanHandle(e)
}

// SubscribeOption configures a subscription at registration time.
type SubscribeOption func(*Subscription) error

// ForEventType restricts the subscription to events of exactly this type.
func ForEventType(eventType string) SubscribeOption {
	return func(s *Subscription) error {
		s.eventType = eventType
		return nil
	}
}

// ForTopic restricts the subscription to events whose topic matches the
// given regular expression. The pattern is anchored and must match the
// whole topic. Events without a topic never match.
func ForTopic(pattern string) SubscribeOption {
	return func(s *Subscription) error {
		compiled, err := regexp.Compile(`\A(?:` + pattern + `)\z`)
		if err != nil {
			return errors.Join(ErrInvalidTopicPattern, err)
		}

		s.topicPattern = compiled

		return nil
	}
}

// WithPriority sets the dispatch priority (default PriorityNormal).
func WithPriority(priority Priority) SubscribeOption {
	return func(s *Subscription) error {
		s.priority = priority
		return nil
	}
}

// WithName sets a display name for the subscription, used in logs and as
// the default per-key middleware key.
func WithName(name string) SubscribeOption {
	return func(s *Subscription) error {
		s.name = name
		return nil
	}
}

// Async marks the subscription for asynchronous dispatch.
func Async() SubscribeOption {
	return func(s *Subscription) error {
		s.kind = DispatchAsync
		return nil
	}
}
