package session

import (
	"errors"
	"fmt"
)

// Side identifies which connection of a session failed.
type Side string

// Session sides.
const (
	SideClient   Side = "client"
	SideUpstream Side = "upstream"
)

// Op identifies the failed operation.
type Op string

// Transport operations.
const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// ErrRegistryClosed is returned by Registry.Open after Close was called.
var ErrRegistryClosed = errors.New("session registry closed")

// TransportError is a mid-session read or write failure. It is fatal to
// the session but never retried.
type TransportError struct {
	Side  Side
	Op    Op
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Side, e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
