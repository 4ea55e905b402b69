package snapshot

import (
	"sync"
	"time"
)

// Strategy decides whether an aggregate has earned a new snapshot.
type Strategy interface {
	// ShouldSnapshot reports whether a snapshot should be taken for the
	// aggregate given the number of events applied since the last one.
	// Implementations may record internal bookkeeping as part of the check.
	ShouldSnapshot(aggregateID string, eventCount uint) bool
}

// CountStrategy takes a snapshot once an aggregate has accumulated at least
// threshold events since the last one. It is stateless and safe for
// concurrent use.
type CountStrategy struct {
	threshold uint
}

// NewCountStrategy creates a count-based strategy. A zero threshold
// snapshots on every event.
func NewCountStrategy(threshold uint) *CountStrategy {
	return &CountStrategy{threshold: threshold}
}

// ShouldSnapshot reports true when eventCount has reached the threshold.
func (s *CountStrategy) ShouldSnapshot(_ string, eventCount uint) bool {
	return eventCount >= s.threshold
}

// TimeStrategy takes a snapshot once enough time has passed since the last
// positive check for the aggregate. The first-ever check for an aggregate id
// bootstraps to true. A true result records the check time; callers that ask
// and then do not snapshot will wait a full interval for the next true.
// It is safe for concurrent use.
type TimeStrategy struct {
	mu        sync.Mutex
	interval  time.Duration
	lastCheck map[string]time.Time

	now func() time.Time
}

// NewTimeStrategy creates a time-based strategy with the given minimum
// interval between snapshots per aggregate.
func NewTimeStrategy(interval time.Duration) *TimeStrategy {
	return &TimeStrategy{
		interval:  interval,
		lastCheck: make(map[string]time.Time),
		now:       time.Now,
	}
}

// ShouldSnapshot reports true on the first check for the aggregate and then
// whenever the interval has elapsed since the last recorded check.
func (s *TimeStrategy) ShouldSnapshot(aggregateID string, _ uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	last, seen := s.lastCheck[aggregateID]
	if !seen || now.Sub(last) >= s.interval {
		s.lastCheck[aggregateID] = now
		return true
	}

	return false
}

// CompositeStrategy combines child strategies with a logical OR,
// short-circuiting on the first child that reports true.
type CompositeStrategy struct {
	children []Strategy
}

// NewCompositeStrategy creates a composite over the given strategies in
// order. An empty composite never snapshots.
func NewCompositeStrategy(children ...Strategy) *CompositeStrategy {
	return &CompositeStrategy{children: children}
}

// ShouldSnapshot reports true as soon as any child does. Children after the
// first true are not consulted, so their bookkeeping side effects do not run.
func (s *CompositeStrategy) ShouldSnapshot(aggregateID string, eventCount uint) bool {
	for _, child := range s.children {
		if child.ShouldSnapshot(aggregateID, eventCount) {
			return true
		}
	}

	return false
}
