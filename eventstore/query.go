package eventstore

import (
	"time"

	"github.com/eventflowlabs/eventflow-go/event"
)

// Query defines the criteria for reading events back. All supplied filters
// are AND-combined; zero values mean "no filter".
//
// It should only be constructed through BuildQuery.
type Query struct {
	aggregateID    string
	aggregateType  string
	sinceVersion   uint
	sinceTimestamp time.Time
	limit          int
}

// AggregateID returns the aggregate-id filter ("" when unset).
func (q Query) AggregateID() string {
	return q.aggregateID
}

// AggregateType returns the aggregate-type filter ("" when unset).
func (q Query) AggregateType() string {
	return q.aggregateType
}

// SinceVersion returns the exclusive version lower bound (0 when unset):
// only events with a version strictly greater are returned.
func (q Query) SinceVersion() uint {
	return q.sinceVersion
}

// SinceTimestamp returns the inclusive occurrence-time lower bound
// (zero time when unset).
func (q Query) SinceTimestamp() time.Time {
	return q.sinceTimestamp
}

// Limit returns the result cap (0 when unset).
func (q Query) Limit() int {
	return q.limit
}

// Matches reports whether a single event satisfies every supplied filter.
// Engines that hold events in memory use it to evaluate queries; the
// relational engine compiles the same semantics to SQL instead.
func (q Query) Matches(e event.Event) bool {
	if q.aggregateID != "" && e.AggregateID != q.aggregateID {
		return false
	}

	if q.aggregateType != "" && e.AggregateType != q.aggregateType {
		return false
	}

	if q.sinceVersion > 0 && e.Version <= q.sinceVersion {
		return false
	}

	if !q.sinceTimestamp.IsZero() && e.OccurredAt.Before(q.sinceTimestamp) {
		return false
	}

	return true
}

// QueryBuilder accumulates filters for a Query. The zero value, as returned
// by BuildQuery, matches every event.
type QueryBuilder struct {
	query Query
}

// BuildQuery starts a query; finalize it with Finalize.
func BuildQuery() QueryBuilder {
	return QueryBuilder{}
}

// ForAggregateID filters to a single aggregate.
func (qb QueryBuilder) ForAggregateID(aggregateID string) QueryBuilder {
	qb.query.aggregateID = aggregateID
	return qb
}

// ForAggregateType filters to a single aggregate type.
func (qb QueryBuilder) ForAggregateType(aggregateType string) QueryBuilder {
	qb.query.aggregateType = aggregateType
	return qb
}

// SinceVersion keeps only events with a version strictly greater than the
// given one.
func (qb QueryBuilder) SinceVersion(version uint) QueryBuilder {
	qb.query.sinceVersion = version
	return qb
}

// SinceTimestamp keeps only events that occurred at or after the given time.
func (qb QueryBuilder) SinceTimestamp(since time.Time) QueryBuilder {
	qb.query.sinceTimestamp = since
	return qb
}

// WithLimit truncates the result to at most limit events.
func (qb QueryBuilder) WithLimit(limit int) QueryBuilder {
	qb.query.limit = limit
	return qb
}

// Finalize returns the accumulated Query.
func (qb QueryBuilder) Finalize() Query {
	return qb.query
}
