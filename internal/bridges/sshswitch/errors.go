package sshswitch

import "errors"

// Domain errors for the SSH switch bridge.
//
// The transport reports every failure as one of the first three kinds. The
// controller absorbs them all; callers only ever see a stale state value and
// a log entry.
var (
	// ErrHostKeyMismatch is returned when the device presents a host key
	// other than the pinned one.
	ErrHostKeyMismatch = errors.New("sshswitch: host key mismatch")

	// ErrConnectionRefused covers every other connect failure: refused or
	// unreachable host, timeout, rejected password, handshake errors.
	ErrConnectionRefused = errors.New("sshswitch: connection refused")

	// ErrExecutionFailure is returned when a command could not be started or
	// its output stream could not be read.
	ErrExecutionFailure = errors.New("sshswitch: execution failure")

	// ErrInvalidHostKey is returned when the configured key cannot be decoded.
	ErrInvalidHostKey = errors.New("sshswitch: invalid host key")

	// ErrSessionClosed is returned by Execute after Close.
	ErrSessionClosed = errors.New("sshswitch: session closed")
)

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	// KindNone means the error is nil or not a transport failure.
	KindNone ErrorKind = iota

	// KindHostKeyMismatch corresponds to ErrHostKeyMismatch.
	KindHostKeyMismatch

	// KindConnectionRefused corresponds to ErrConnectionRefused.
	KindConnectionRefused

	// KindExecutionFailure corresponds to ErrExecutionFailure.
	KindExecutionFailure
)

// String returns the snake_case name used in logs and health messages.
func (k ErrorKind) String() string {
	switch k {
	case KindHostKeyMismatch:
		return "host_key_mismatch"
	case KindConnectionRefused:
		return "connection_refused"
	case KindExecutionFailure:
		return "execution_failure"
	default:
		return "none"
	}
}

// KindOf reports which transport failure err wraps.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrHostKeyMismatch):
		return KindHostKeyMismatch
	case errors.Is(err, ErrConnectionRefused):
		return KindConnectionRefused
	case errors.Is(err, ErrExecutionFailure), errors.Is(err, ErrSessionClosed):
		return KindExecutionFailure
	default:
		return KindNone
	}
}
