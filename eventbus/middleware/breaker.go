package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eventflowlabs/eventflow-go/observability"
)

const (
	logMsgCircuitOpened   = "circuit breaker opened"
	logMsgCircuitClosed   = "circuit breaker closed"
	logMsgCircuitRejected = "circuit breaker rejected dispatch"
	logAttrState          = "state"
)

// ErrCircuitOpen is the synthetic rejection returned when a breaker is open;
// the wrapped handler is never invoked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the finite-state position of one per-key breaker.
type BreakerState int

const (
	// StateClosed passes calls through and counts failures.
	StateClosed BreakerState = iota

	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen passes trial calls and counts successes.
	StateHalfOpen
)

// String provides a string representation of BreakerState for logging.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures the per-key state machines of one middleware
// instance.
type BreakerSettings struct {
	// FailureThreshold is the consecutive-failure count that opens a closed
	// breaker.
	FailureThreshold int

	// SuccessThreshold is the consecutive-success count that closes a
	// half-open breaker.
	SuccessThreshold int

	// RecoveryTimeout is how long an open breaker rejects before the next
	// CanExecute moves it to half-open.
	RecoveryTimeout time.Duration
}

// DefaultBreakerSettings returns the stock configuration: open after 5
// consecutive failures, close after 2 trial successes, 30s recovery timeout.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Breaker is one per-key finite-state guard. It is created lazily on first
// use of a key and lives as long as the owning middleware instance.
//
// CanExecute has a side effect: it performs the open-to-half-open transition
// once the recovery timeout has elapsed. It therefore shares the same mutex
// as RecordSuccess and RecordFailure. The contract is that exactly one of
// RecordSuccess or RecordFailure follows each CanExecute that returned true.
type Breaker struct {
	mu           sync.Mutex
	settings     BreakerSettings
	state        BreakerState
	failureCount int
	successCount int
	openedAt     time.Time
	now          func() time.Time
}

// NewBreaker creates a closed breaker with the given settings.
func NewBreaker(settings BreakerSettings) *Breaker {
	return &Breaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// CanExecute reports whether a call may proceed. Evaluating it on an open
// breaker whose recovery timeout has elapsed moves the breaker to half-open
// (resetting the success count) as part of the check.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.settings.RecoveryTimeout {
			b.state = StateHalfOpen
			b.successCount = 0
			return true
		}

		return false

	default:
		return false
	}
}

// RecordSuccess counts a successful call. A closed breaker resets its
// failure streak; a half-open breaker reaching the success threshold closes
// with both counters reset.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0

	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.settings.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
		}

	case StateOpen:
		// A success can only be recorded for a call admitted earlier; the
		// breaker has reopened in the meantime, so the streak is ignored.
	}
}

// RecordFailure counts a failed call. A closed breaker reaching the failure
// threshold opens; any single failure while half-open reopens immediately
// (success count reset, openedAt updated).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.settings.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}

	case StateHalfOpen:
		b.state = StateOpen
		b.successCount = 0
		b.openedAt = b.now()

	case StateOpen:
		b.failureCount++
	}
}

// State returns the current state for logging and tests.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// CircuitBreakerMiddleware guards handler invocations with one lazily
// created Breaker per key. When an event-type allow-list is configured and
// the event is excluded, the stage bypasses straight to next.
type CircuitBreakerMiddleware struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	settings   BreakerSettings
	eventTypes map[string]struct{}
	keyFor     func(*Context) string
	logger     observability.Logger
}

// BreakerOption defines a functional option for configuring
// CircuitBreakerMiddleware.
type BreakerOption func(*CircuitBreakerMiddleware)

// WithBreakerEventTypes restricts circuit breaking to the given event types;
// all other events bypass the stage.
func WithBreakerEventTypes(eventTypes ...string) BreakerOption {
	return func(m *CircuitBreakerMiddleware) {
		m.eventTypes = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			m.eventTypes[t] = struct{}{}
		}
	}
}

// WithBreakerKeyFunc overrides how the per-key breaker is selected
// (default: the pipeline Context key).
func WithBreakerKeyFunc(keyFor func(*Context) string) BreakerOption {
	return func(m *CircuitBreakerMiddleware) {
		m.keyFor = keyFor
	}
}

// WithBreakerLogger sets the structured log sink for state transitions and
// rejections.
func WithBreakerLogger(logger observability.Logger) BreakerOption {
	return func(m *CircuitBreakerMiddleware) {
		m.logger = logger
	}
}

// NewCircuitBreakerMiddleware creates the circuit-breaking stage.
func NewCircuitBreakerMiddleware(settings BreakerSettings, opts ...BreakerOption) *CircuitBreakerMiddleware {
	m := &CircuitBreakerMiddleware{
		breakers: make(map[string]*Breaker),
		settings: settings,
		keyFor:   func(mctx *Context) string { return mctx.Key() },
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Process implements the Middleware interface.
func (m *CircuitBreakerMiddleware) Process(ctx context.Context, mctx *Context, next Next) error {
	if m.eventTypes != nil {
		if _, guarded := m.eventTypes[mctx.Event.EventType]; !guarded {
			return next(ctx)
		}
	}

	key := m.keyFor(mctx)
	breaker := m.breakerFor(key)

	if !breaker.CanExecute() {
		if m.logger != nil {
			m.logger.Warn(logMsgCircuitRejected,
				logAttrKey, key,
				logAttrEventType, mctx.Event.EventType,
			)
		}

		return fmt.Errorf("%w: key %q", ErrCircuitOpen, key)
	}

	stateBefore := breaker.State()

	err := next(ctx)
	if err != nil {
		breaker.RecordFailure()
		m.logTransition(breaker, stateBefore, key)

		return err
	}

	breaker.RecordSuccess()
	m.logTransition(breaker, stateBefore, key)

	return nil
}

// breakerFor looks up or lazily creates the breaker for a key.
func (m *CircuitBreakerMiddleware) breakerFor(key string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	breaker, ok := m.breakers[key]
	if !ok {
		breaker = NewBreaker(m.settings)
		m.breakers[key] = breaker
	}

	return breaker
}

func (m *CircuitBreakerMiddleware) logTransition(breaker *Breaker, stateBefore BreakerState, key string) {
	if m.logger == nil {
		return
	}

	stateAfter := breaker.State()
	if stateAfter == stateBefore {
		return
	}

	msg := logMsgCircuitClosed
	if stateAfter == StateOpen {
		msg = logMsgCircuitOpened
	}

	m.logger.Info(msg, logAttrKey, key, logAttrState, stateAfter.String())
}

var _ Middleware = (*CircuitBreakerMiddleware)(nil)
