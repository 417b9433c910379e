// pkg/driver/errors.go
package driver

import (
	"errors"
	"fmt"
)

// ErrorKind classifies driver failures so callers can react without
// string-matching messages.
type ErrorKind string

const (
	// KindTransport is a connection-level failure. Not recovered locally.
	KindTransport ErrorKind = "TRANSPORT"

	// KindTimeout means a bounded wait was exceeded.
	KindTimeout ErrorKind = "TIMEOUT"

	// KindProtocol is a malformed device response, e.g. a bad binary block
	// header. Never retried.
	KindProtocol ErrorKind = "PROTOCOL"

	// KindInvalidArgument is raised before any device communication, so the
	// device state is guaranteed unchanged.
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"

	// KindPrecondition means the operation needs device-mode setup that is
	// not currently in effect.
	KindPrecondition ErrorKind = "PRECONDITION"

	// KindUnsupported is an attempted write to a read-only property.
	KindUnsupported ErrorKind = "UNSUPPORTED"
)

// Error is the error type surfaced by all instrument drivers.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an operation name and kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a driver error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or "" if err is not a driver error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTimeout reports whether err is a bounded-wait failure.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsInvalidArgument reports whether err was raised by argument validation,
// before any bytes reached the device.
func IsInvalidArgument(err error) bool {
	return KindOf(err) == KindInvalidArgument
}
