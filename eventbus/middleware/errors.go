package middleware

import (
	"context"
	"errors"
)

// ErrorKind classifies a handler failure for retry and circuit-breaking
// decisions, independent of any concrete error type hierarchy.
type ErrorKind int

const (
	// KindUnknown is the default for unclassified failures.
	KindUnknown ErrorKind = iota

	// KindTransient marks failures that are expected to succeed on retry.
	KindTransient

	// KindTimeout marks deadline-exceeded failures.
	KindTimeout

	// KindUnavailable marks failures of a guarded dependency, including
	// circuit-open rejections.
	KindUnavailable

	// KindPermanent marks failures that will not succeed on retry.
	KindPermanent
)

// String provides a string representation of ErrorKind for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classifier maps a failure to an ErrorKind.
type Classifier func(error) ErrorKind

// kindedError tags an error with an explicit kind; produced by Classified.
type kindedError struct {
	kind ErrorKind
	err  error
}

func (e *kindedError) Error() string {
	return e.err.Error()
}

func (e *kindedError) Unwrap() error {
	return e.err
}

// Classified tags an error with an explicit kind so subscribers can steer
// the retry predicate without relying on error types.
func Classified(err error, kind ErrorKind) error {
	if err == nil {
		return nil
	}

	return &kindedError{kind: kind, err: err}
}

// DefaultClassifier resolves explicit tags first, then maps well-known
// failures: deadline expiry to KindTimeout, cancellation to KindPermanent
// (the caller gave up, retrying is pointless), circuit-open rejections to
// KindUnavailable. Everything else is KindUnknown.
func DefaultClassifier(err error) ErrorKind {
	var kinded *kindedError
	if errors.As(err, &kinded) {
		return kinded.kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindPermanent
	case errors.Is(err, ErrCircuitOpen):
		return KindUnavailable
	default:
		return KindUnknown
	}
}
