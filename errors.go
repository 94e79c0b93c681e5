package netmock

import (
	"fmt"

	"github.com/pkg/errors"
)

// StatusCode enumerates the error kinds the core surfaces, per the error
// handling design: user-facing failures delivered through response
// continuations and facade return values, and programming errors that
// indicate broken test code rather than a recoverable condition.
type StatusCode int

const (
	// OK indicates a successful response or alarm firing.
	OK StatusCode = iota
	// ShutdownInProgress is returned by any facade call made after shutdown.
	ShutdownInProgress
	// CallbackCanceled marks an operation or alarm terminated by cancellation
	// or by shutdown.
	CallbackCanceled
	// NetworkTimeout marks an operation whose deadline elapsed in virtual
	// time with no response ever scheduled for it.
	NetworkTimeout
	// HandshakeFailed is a code a connection hook's ValidateHost may return
	// to reject a host. The handshake pipeline delivers whatever status the
	// hook returns unchanged; it does not rewrite it to this code.
	HandshakeFailed
	// ProgrammingError marks a contract violation by the caller: scheduling
	// a response for a blackholed operation, calling driver methods off the
	// network thread, or scheduling a response for a time before now.
	ProgrammingError
)

func (c StatusCode) String() string {
	switch c {
	case OK:
		return "OK"
	case ShutdownInProgress:
		return "ShutdownInProgress"
	case CallbackCanceled:
		return "CallbackCanceled"
	case NetworkTimeout:
		return "NetworkTimeout"
	case HandshakeFailed:
		return "HandshakeFailed"
	case ProgrammingError:
		return "ProgrammingError"
	default:
		return fmt.Sprintf("StatusCode(%d)", int(c))
	}
}

// StatusError is the error type returned and delivered by the core. It can
// wrap a github.com/pkg/errors chain, reachable through Unwrap (and so
// through errors.Is / errors.As), while callers still switch on Code.
// StatusError has no Cause method, so errors.Cause stops at it.
type StatusError struct {
	Code   StatusCode
	Reason string
	cause  error
}

// NewStatus builds a StatusError with no wrapped cause.
func NewStatus(code StatusCode, reason string) *StatusError {
	return &StatusError{Code: code, Reason: reason}
}

// WrapStatus builds a StatusError wrapping an existing error via pkg/errors,
// preserving its chain for errors.Unwrap / errors.Is / errors.As callers.
func WrapStatus(code StatusCode, err error, reason string) *StatusError {
	if err == nil {
		return NewStatus(code, reason)
	}
	return &StatusError{Code: code, Reason: reason, cause: errors.Wrap(err, reason)}
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.cause.Error())
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return e.Code.String()
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *StatusError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsOK reports whether the status represents success.
func (e *StatusError) IsOK() bool {
	return e == nil || e.Code == OK
}

var statusOK = NewStatus(OK, "")

// programmingErrorf panics with a ProgrammingError StatusError. Contract
// violations by the test author are assertion-style failures, not
// recoverable conditions.
func programmingErrorf(format string, args ...any) {
	panic(NewStatus(ProgrammingError, fmt.Sprintf(format, args...)))
}
