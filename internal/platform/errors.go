package platform

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a platform failure for the retry policy.
type ErrorKind string

const (
	// Transient failures (network, rate limit, timeout) are retried
	// with backoff.
	Transient ErrorKind = "transient"
	// Permanent failures (bad destination, revoked credentials) are
	// never retried and count toward the pair circuit breaker.
	Permanent ErrorKind = "permanent"
)

// Error is a classified platform failure.
type Error struct {
	Kind ErrorKind
	Op   string // "send", "ping", "dial"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("platform: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable failure.
func NewTransient(op string, err error) *Error {
	return &Error{Kind: Transient, Op: op, Err: err}
}

// NewPermanent wraps err as a terminal failure.
func NewPermanent(op string, err error) *Error {
	return &Error{Kind: Permanent, Op: op, Err: err}
}

// Classify returns the error kind for any error reaching the executor.
// Timeouts and unclassified errors are Transient: when in doubt, retry
// up to the attempt budget rather than dropping a message.
func Classify(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	return Transient
}
