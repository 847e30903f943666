// Package apperr defines the closed error taxonomy shared by every
// component of the trading core. Callers distinguish kinds with IsKind, or
// with errors.Is against an *Error built by New for the wanted Kind (Kind
// itself is a string, not an error); wrapped causes are still reachable via
// errors.Unwrap.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a conceptual error category, not a source-level error type.
type Kind string

const (
	Transport         Kind = "TRANSPORT"
	RateLimited       Kind = "RATE_LIMITED"
	MarketClosed      Kind = "MARKET_CLOSED"
	Validation        Kind = "VALIDATION"
	CapacityExceeded  Kind = "CAPACITY_EXCEEDED"
	InsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	BrokerRejected    Kind = "BROKER_REJECTED"
	StaleData         Kind = "STALE_DATA"
	StoreBusy         Kind = "STORE_BUSY"
	Shutdown          Kind = "SHUTDOWN"
)

// Error wraps a Kind with a message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperr.New(Kind, "")) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying cause as the wrapped error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Of reports the Kind of err, and ok=false if err is nil or not an *Error.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
