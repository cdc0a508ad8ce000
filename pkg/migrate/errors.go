package migrate

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider errors so the engine knows whether to retry,
// fail the job, or flag an unexpected external change.
type ErrorKind int

const (
	// ErrorKindTransient covers throttling and rate limiting. Retried with
	// backoff up to a bounded attempt count.
	ErrorKindTransient ErrorKind = iota
	// ErrorKindTerminal covers permission denied, resource not found and
	// invalid key errors. Fails the job immediately, no retry.
	ErrorKindTerminal
	// ErrorKindTimeout means a stage exceeded its wait bound.
	ErrorKindTimeout
	// ErrorKindStateConflict means an instance or volume was in an
	// unexpected state, which may indicate concurrent external modification.
	ErrorKindStateConflict
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindTerminal:
		return "terminal"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindStateConflict:
		return "state conflict"
	default:
		return "unknown"
	}
}

// ProviderError wraps an error from the cloud provider with its
// classification and the operation that produced it.
type ProviderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable provider error.
func Transient(op string, err error) error {
	return &ProviderError{Kind: ErrorKindTransient, Op: op, Err: err}
}

// Terminal wraps err as a non-retryable provider error.
func Terminal(op string, err error) error {
	return &ProviderError{Kind: ErrorKindTerminal, Op: op, Err: err}
}

// Timeout wraps err as a stage-timeout error.
func Timeout(op string, err error) error {
	return &ProviderError{Kind: ErrorKindTimeout, Op: op, Err: err}
}

// StateConflict wraps err as an unexpected-state error.
func StateConflict(op string, err error) error {
	return &ProviderError{Kind: ErrorKindStateConflict, Op: op, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are treated
// as terminal so an unknown failure never loops in a retry cycle.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindTerminal
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return KindOf(err) == ErrorKindTransient
}

// IsTimeout reports whether err is a stage-timeout error.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrorKindTimeout
}
