package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCollector captures recorded metrics for assertions.
type fakeCollector struct {
	mu        sync.Mutex
	durations map[string]int
	values    map[string]float64
	counters  map[string]int
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{
		durations: map[string]int{},
		values:    map[string]float64{},
		counters:  map[string]int{},
	}
}

func (c *fakeCollector) RecordDuration(metric string, _ time.Duration, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durations[metric]++
}

func (c *fakeCollector) IncrementCounter(metric string, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[metric]++
}

func (c *fakeCollector) RecordValue(metric string, value float64, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[metric] = value
}

func Test_MetricsMiddleware_RecordsOutcomesPerKey(t *testing.T) {
	m := NewMetricsMiddleware(0)
	mctx := &Context{Event: testEvent(t, "OrderPlaced"), HandlerName: "billing"}

	require.NoError(t, m.Process(context.Background(), mctx, func(context.Context) error { return nil }))
	require.NoError(t, m.Process(context.Background(), mctx, func(context.Context) error { return nil }))

	failure := errors.New("boom")
	err := m.Process(context.Background(), mctx, func(context.Context) error { return failure })
	require.ErrorIs(t, err, failure)

	snapshot, ok := m.Snapshot("billing")
	require.True(t, ok)
	assert.Equal(t, uint64(3), snapshot.Count)
	assert.Equal(t, uint64(2), snapshot.SuccessCount)
	assert.Equal(t, uint64(1), snapshot.FailureCount)
	assert.GreaterOrEqual(t, snapshot.MaxDuration, snapshot.MinDuration)
	assert.GreaterOrEqual(t, snapshot.TotalDuration, snapshot.MaxDuration)
}

func Test_MetricsMiddleware_NeverChangesControlFlow(t *testing.T) {
	m := NewMetricsMiddleware(0)
	mctx := &Context{Event: testEvent(t, "OrderPlaced")}

	failure := errors.New("boom")
	calls := 0

	err := m.Process(context.Background(), mctx, func(context.Context) error {
		calls++
		return failure
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, failure, err)
}

func Test_MetricsMiddleware_FlushReportsAggregates(t *testing.T) {
	collector := newFakeCollector()
	m := NewMetricsMiddleware(0, WithMetricsCollector(collector))
	mctx := &Context{Event: testEvent(t, "OrderPlaced"), HandlerName: "billing"}

	require.NoError(t, m.Process(context.Background(), mctx, func(context.Context) error { return nil }))
	_ = m.Process(context.Background(), mctx, func(context.Context) error { return errors.New("boom") })

	assert.Equal(t, 2, collector.durations[metricDispatchDuration])

	m.Flush()
	assert.Equal(t, float64(2), collector.values[metricDispatchCount])
	assert.Equal(t, float64(1), collector.values[metricDispatchFailures])
}

func Test_MetricsMiddleware_IntervalFlushTriggersDuringRecord(t *testing.T) {
	collector := newFakeCollector()
	m := NewMetricsMiddleware(time.Nanosecond, WithMetricsCollector(collector))
	mctx := &Context{Event: testEvent(t, "OrderPlaced")}

	require.NoError(t, m.Process(context.Background(), mctx, func(context.Context) error { return nil }))

	// With a nanosecond interval the first record already flushes.
	assert.Equal(t, float64(1), collector.values[metricDispatchCount])
}

func Test_MetricsMiddleware_CountersAccumulateAcrossFlushes(t *testing.T) {
	m := NewMetricsMiddleware(0)
	mctx := &Context{Event: testEvent(t, "OrderPlaced"), HandlerName: "billing"}

	require.NoError(t, m.Process(context.Background(), mctx, func(context.Context) error { return nil }))
	m.Flush()
	require.NoError(t, m.Process(context.Background(), mctx, func(context.Context) error { return nil }))

	snapshot, ok := m.Snapshot("billing")
	require.True(t, ok)
	assert.Equal(t, uint64(2), snapshot.Count)
}
