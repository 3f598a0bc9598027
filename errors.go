package rflow

import (
	rerrors "github.com/alxayo/rflow/internal/errors"
)

// Sentinel errors returned by this package's operations. Use errors.Is to
// test against them and errors.As against the concrete *APIVersionError,
// *IOError, or *TimeoutError types for additional detail.
var (
	// ErrDataChannelTaken is returned by TakeDataChannel/Spawn when the
	// single receive channel has already been handed out.
	ErrDataChannelTaken = rerrors.ErrDataChannelTaken
	// ErrInvalidData is returned when a peer's handshake does not match the
	// protocol grammar.
	ErrInvalidData = rerrors.ErrInvalidData
	// ErrInvalidAddress is returned when a client address fails to resolve
	// to any candidate.
	ErrInvalidAddress = rerrors.ErrInvalidAddress
)

// IOError wraps an OS-level socket failure.
type IOError = rerrors.IOError

// APIVersionError is returned when a peer's handshake reports a protocol
// version this module does not speak.
type APIVersionError = rerrors.APIVersionError

// TimeoutError indicates an operation exceeded a deadline.
type TimeoutError = rerrors.TimeoutError

// IsTimeout reports whether err is, or wraps, a deadline failure.
func IsTimeout(err error) bool { return rerrors.IsTimeout(err) }

// IsIO reports whether err is, or wraps, an IOError.
func IsIO(err error) bool { return rerrors.IsIO(err) }
