// Package fault holds the provider error taxonomy and the retry policy applied
// to every provider call.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Error classes. Adapters wrap SDK errors into one of these with New.
var (
	// ErrCredentialsInvalid is fatal to the whole scan and never retried.
	ErrCredentialsInvalid = errors.New("credentials invalid")
	// ErrThrottled is retried with backoff.
	ErrThrottled = errors.New("provider throttled")
	// ErrTransientNetwork is retried with backoff.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrUnsupported means the resource type is not available in this provider or region.
	ErrUnsupported = errors.New("resource type unsupported")
	// ErrMetricsUnavailable downgrades confidence but never fails a scan.
	ErrMetricsUnavailable = errors.New("metrics unavailable")
)

// Error is a classified provider failure.
type Error struct {
	Kind     error
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error class, so errors.Is(err, ErrThrottled) works through wrapping.
func (e *Error) Is(target error) bool { return target == e.Kind }

// New wraps err with a classification. A nil kind defaults to ErrTransientNetwork.
func New(kind error, provider, op string, err error) error {
	if kind == nil {
		kind = ErrTransientNetwork
	}
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrTransientNetwork)
}

// Fatal reports whether err must abort the scan.
func Fatal(err error) bool {
	return errors.Is(err, ErrCredentialsInvalid)
}

// KindOf returns the class of err, or nil when it is unclassified.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCredentialsInvalid):
		return ErrCredentialsInvalid
	case errors.Is(err, ErrThrottled):
		return ErrThrottled
	case errors.Is(err, ErrTransientNetwork):
		return ErrTransientNetwork
	case errors.Is(err, ErrUnsupported):
		return ErrUnsupported
	case errors.Is(err, ErrMetricsUnavailable):
		return ErrMetricsUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	}
	return nil
}
