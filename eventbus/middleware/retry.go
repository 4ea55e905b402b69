package middleware

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/eventflowlabs/eventflow-go/observability"
)

const (
	logMsgRetryScheduled = "retrying handler after backoff"
	logMsgRetryExhausted = "retry budget exhausted"
	logAttrAttempt       = "attempt"
	logAttrDelayMS       = "delay_ms"
	logAttrErrorKind     = "error_kind"
)

// ErrRetryExhausted marks a retryable failure that survived the full retry
// budget. The underlying failure is joined onto it.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// RetryOptions is the immutable retry configuration.
//
// An empty RetryableKinds list means every failure is considered retryable;
// otherwise only failures classified to one of the listed kinds are retried.
type RetryOptions struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	RetryableKinds []ErrorKind
}

// DefaultRetryOptions returns the stock configuration: 3 retries, 100ms base
// delay doubling up to a 5s cap, all failure kinds retryable.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:    3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry reports whether a failure of the given kind is retryable.
func (o RetryOptions) ShouldRetry(kind ErrorKind) bool {
	if len(o.RetryableKinds) == 0 {
		return true
	}

	return slices.Contains(o.RetryableKinds, kind)
}

// Delay computes the backoff before the given 0-based attempt is retried:
// min(BaseDelay * BackoffFactor^attempt, MaxDelay). It is non-decreasing in
// attempt and capped at MaxDelay.
func (o RetryOptions) Delay(attempt int) time.Duration {
	delay := float64(o.BaseDelay) * math.Pow(o.BackoffFactor, float64(attempt))
	if delay > float64(o.MaxDelay) || math.IsInf(delay, 1) {
		return o.MaxDelay
	}

	return time.Duration(delay)
}

// RetryMiddleware re-invokes the rest of the pipeline on retryable failures
// with exponential backoff. Total attempts never exceed MaxRetries+1 and no
// backoff wait follows the final attempt. The backoff wait observes context
// cancellation and aborts rather than completing the wait, returning the
// cancellation joined with the last handler failure.
type RetryMiddleware struct {
	options    RetryOptions
	classifier Classifier
	logger     observability.Logger
}

// RetryOption defines a functional option for configuring RetryMiddleware.
type RetryOption func(*RetryMiddleware)

// WithRetryClassifier overrides the error classifier (default DefaultClassifier).
func WithRetryClassifier(classifier Classifier) RetryOption {
	return func(m *RetryMiddleware) {
		m.classifier = classifier
	}
}

// WithRetryLogger sets the structured log sink for retry diagnostics.
func WithRetryLogger(logger observability.Logger) RetryOption {
	return func(m *RetryMiddleware) {
		m.logger = logger
	}
}

// NewRetryMiddleware creates the retry stage with the given options.
func NewRetryMiddleware(options RetryOptions, opts ...RetryOption) *RetryMiddleware {
	m := &RetryMiddleware{
		options:    options,
		classifier: DefaultClassifier,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Process implements the Middleware interface.
func (m *RetryMiddleware) Process(ctx context.Context, mctx *Context, next Next) error {
	for attempt := 0; ; attempt++ {
		err := next(ctx)
		if err == nil {
			return nil
		}

		kind := m.classifier(err)
		if !m.options.ShouldRetry(kind) {
			return err
		}

		if attempt == m.options.MaxRetries {
			if m.logger != nil {
				m.logger.Warn(logMsgRetryExhausted,
					logAttrError, err.Error(),
					logAttrErrorKind, kind.String(),
					logAttrEventType, mctx.Event.EventType,
					logAttrAttempt, attempt,
				)
			}

			return errors.Join(ErrRetryExhausted, err)
		}

		delay := m.options.Delay(attempt)

		if m.logger != nil {
			m.logger.Debug(logMsgRetryScheduled,
				logAttrError, err.Error(),
				logAttrErrorKind, kind.String(),
				logAttrEventType, mctx.Event.EventType,
				logAttrAttempt, attempt,
				logAttrDelayMS, delay.Milliseconds(),
			)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		}
	}
}

var _ Middleware = (*RetryMiddleware)(nil)
