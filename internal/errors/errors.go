package errors

// Structured error taxonomy for the rflow protocol, in the spirit of the
// tagged-error-struct approach used by earlier protocol work in this
// repository: IOError and TimeoutError carry an Op and an optional wrapped
// cause and support errors.Is/As via Unwrap; APIVersionError carries only
// the reported version.

import (
	"context"
	stdErrors "errors"
	"fmt"
)

// ErrDataChannelTaken is returned when the single-take incoming receiver has
// already been handed out.
var ErrDataChannelTaken = stdErrors.New("data channel is already taken")

// ErrInvalidData is returned when the handshake does not match the grammar
// (bad greeting, unparseable version, EOF before the headers-end marker).
var ErrInvalidData = stdErrors.New("invalid data")

// ErrInvalidAddress is returned when address resolution produces zero
// candidates.
var ErrInvalidAddress = stdErrors.New("invalid address")

// IOError wraps any OS-level failure on sockets or file descriptors.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("io error: %s", e.Op)
	}
	return fmt.Sprintf("io error: %s: %v", e.Op, e.Err)
}
func (e *IOError) Unwrap() error { return e.Err }

// NewIOError wraps cause as an *IOError tagged with the failing operation.
func NewIOError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &IOError{Op: op, Err: cause}
}

// APIVersionError is returned when the greeting parses but reports a version
// the client does not support.
type APIVersionError struct {
	Version uint8
}

func (e *APIVersionError) Error() string {
	return fmt.Sprintf("unsupported api version: %d", e.Version)
}

// NewAPIVersionError builds an *APIVersionError for the reported version.
func NewAPIVersionError(version uint8) error {
	return &APIVersionError{Version: version}
}

// TimeoutError indicates an operation exceeded a deadline (the cumulative
// handshake deadline or a configured write timeout).
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("timed out: %s", e.Op)
	}
	return fmt.Sprintf("timed out: %s: %v", e.Op, e.Err)
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// NewTimeoutError builds a *TimeoutError tagged with the failing operation.
func NewTimeoutError(op string, cause error) error {
	return &TimeoutError{Op: op, Err: cause}
}

// IsTimeout reports whether err is (or wraps) a TimeoutError, a context
// deadline, or any error exposing Timeout() bool that returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsIO reports whether err is (or wraps) an *IOError.
func IsIO(err error) bool {
	if err == nil {
		return false
	}
	var ie *IOError
	return stdErrors.As(err, &ie)
}

// Usage pattern: keep layering context with fmt.Errorf("...: %w", err) and
// let callers classify via IsTimeout/IsIO or errors.As against the concrete
// type they care about.
