package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/eventflowlabs/eventflow-go/observability"
)

const (
	logMsgMetricsFlushed = "dispatch metrics flushed"
	logAttrCount         = "count"
	logAttrSuccessCount  = "success_count"
	logAttrFailureCount  = "failure_count"
	logAttrAvgDurationMS = "avg_duration_ms"
	logAttrMinDurationMS = "min_duration_ms"
	logAttrMaxDurationMS = "max_duration_ms"

	metricDispatchDuration = "eventbus.dispatch.duration"
	metricDispatchCount    = "eventbus.dispatch.count"
	metricDispatchFailures = "eventbus.dispatch.failures"

	labelKey    = "key"
	labelStatus = "status"

	statusSuccess = "success"
	statusError   = "error"
)

// MetricsSnapshot is a copy of the aggregated per-key counters, exposed for
// flushing and tests. Counters accumulate for the middleware's lifetime and
// are never auto-reset.
type MetricsSnapshot struct {
	Count         uint64
	SuccessCount  uint64
	FailureCount  uint64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
}

// MetricsMiddleware observes every dispatch: it always calls next exactly
// once, records duration and outcome per key, and periodically flushes the
// aggregates to the configured collector and log sink. It never changes
// control flow and returns next's error unchanged.
type MetricsMiddleware struct {
	mu        sync.Mutex
	byKey     map[string]*MetricsSnapshot
	lastFlush time.Time

	reportInterval time.Duration
	collector      observability.MetricsCollector
	logger         observability.Logger
	keyFor         func(*Context) string
	now            func() time.Time
}

// MetricsOption defines a functional option for configuring MetricsMiddleware.
type MetricsOption func(*MetricsMiddleware)

// WithMetricsCollector sets the collector the aggregates are flushed to.
func WithMetricsCollector(collector observability.MetricsCollector) MetricsOption {
	return func(m *MetricsMiddleware) {
		m.collector = collector
	}
}

// WithMetricsLogger sets the structured log sink for flush summaries.
func WithMetricsLogger(logger observability.Logger) MetricsOption {
	return func(m *MetricsMiddleware) {
		m.logger = logger
	}
}

// WithMetricsKeyFunc overrides how dispatches are grouped
// (default: the pipeline Context key).
func WithMetricsKeyFunc(keyFor func(*Context) string) MetricsOption {
	return func(m *MetricsMiddleware) {
		m.keyFor = keyFor
	}
}

// NewMetricsMiddleware creates the metrics stage. A zero reportInterval
// disables periodic flushing; Flush can still be called explicitly.
func NewMetricsMiddleware(reportInterval time.Duration, opts ...MetricsOption) *MetricsMiddleware {
	m := &MetricsMiddleware{
		byKey:          make(map[string]*MetricsSnapshot),
		reportInterval: reportInterval,
		keyFor:         func(mctx *Context) string { return mctx.Key() },
		now:            time.Now,
	}

	m.lastFlush = m.now()

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Process implements the Middleware interface.
func (m *MetricsMiddleware) Process(ctx context.Context, mctx *Context, next Next) error {
	start := m.now()
	err := next(ctx)
	duration := m.now().Sub(start)

	m.record(ctx, m.keyFor(mctx), duration, err == nil)

	return err
}

// record updates the per-key aggregate and triggers an interval flush when due.
func (m *MetricsMiddleware) record(ctx context.Context, key string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.byKey[key]
	if !ok {
		metrics = &MetricsSnapshot{MinDuration: duration, MaxDuration: duration}
		m.byKey[key] = metrics
	}

	metrics.Count++
	if success {
		metrics.SuccessCount++
	} else {
		metrics.FailureCount++
	}

	metrics.TotalDuration += duration
	if duration < metrics.MinDuration {
		metrics.MinDuration = duration
	}
	if duration > metrics.MaxDuration {
		metrics.MaxDuration = duration
	}

	if m.collector != nil {
		status := statusSuccess
		if !success {
			status = statusError
		}

		labels := map[string]string{labelKey: key, labelStatus: status}
		if contextual, ok := m.collector.(observability.ContextualMetricsCollector); ok {
			contextual.RecordDurationContext(ctx, metricDispatchDuration, duration, labels)
		} else {
			m.collector.RecordDuration(metricDispatchDuration, duration, labels)
		}
	}

	if m.reportInterval > 0 && m.now().Sub(m.lastFlush) >= m.reportInterval {
		m.flushLocked()
	}
}

// Flush pushes the aggregated counters to the collector and log sink.
// Counters keep accumulating afterwards; only the flush clock resets.
func (m *MetricsMiddleware) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flushLocked()
}

func (m *MetricsMiddleware) flushLocked() {
	m.lastFlush = m.now()

	for key, metrics := range m.byKey {
		if m.collector != nil {
			labels := map[string]string{labelKey: key}
			m.collector.RecordValue(metricDispatchCount, float64(metrics.Count), labels)
			m.collector.RecordValue(metricDispatchFailures, float64(metrics.FailureCount), labels)
		}

		if m.logger != nil {
			avg := time.Duration(0)
			if metrics.Count > 0 {
				avg = metrics.TotalDuration / time.Duration(metrics.Count)
			}

			m.logger.Info(logMsgMetricsFlushed,
				logAttrKey, key,
				logAttrCount, metrics.Count,
				logAttrSuccessCount, metrics.SuccessCount,
				logAttrFailureCount, metrics.FailureCount,
				logAttrAvgDurationMS, avg.Milliseconds(),
				logAttrMinDurationMS, metrics.MinDuration.Milliseconds(),
				logAttrMaxDurationMS, metrics.MaxDuration.Milliseconds(),
			)
		}
	}
}

// Snapshot returns a copy of the aggregate for a key; the second return
// reports whether the key has been seen.
func (m *MetricsMiddleware) Snapshot(key string) (MetricsSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.byKey[key]
	if !ok {
		return MetricsSnapshot{}, false
	}

	return *metrics, true
}

var _ Middleware = (*MetricsMiddleware)(nil)
