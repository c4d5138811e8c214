package common

import (
	"errors"
	"fmt"
)

// Endpoint level errors are returned to the caller of Connect / Start.
// Connection level errors (ErrIO, ErrValidationFailure) only terminate the affected
// connection and are reported through the disconnect callbacks.
var (
	ErrResolution        = errors.New("address resolution failed")
	ErrConnect           = errors.New("connect failed")
	ErrBind              = errors.New("bind failed")
	ErrIO                = errors.New("i/o failure")
	ErrValidationFailure = errors.New("validation failed")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyRunning    = errors.New("endpoint already running")
	ErrStopped           = errors.New("endpoint stopped")
)

// ConnError describes an endpoint level failure. Kind is one of the sentinel errors
// above, Err is the underlying cause.
type ConnError struct {
	Op       string
	Endpoint string
	Kind     error
	Err      error
}

// NewConnError creates a ConnError
func NewConnError(op, endpoint string, kind, err error) *ConnError {
	return &ConnError{Op: op, Endpoint: endpoint, Kind: kind, Err: err}
}

func (e *ConnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Endpoint, e.Kind, e.Err)
}

// Unwrap allows errors.Is to match both the kind and the cause
func (e *ConnError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
