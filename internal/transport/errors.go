package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

type Reason string

const (
	ReasonNotConnected Reason = "not_connected"
	ReasonTimeout      Reason = "timeout"
	ReasonRefused      Reason = "refused"
	ReasonProtocol     Reason = "protocol_error"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrTimeout          = errors.New("operation timed out")
	ErrProtocol         = errors.New("protocol error")
)

// Error is a failed delivery attempt tagged with the transport and reason.
type Error struct {
	Kind   Kind
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps reasons onto the package sentinels so callers can test with
// errors.Is(err, transport.ErrTimeout).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnectionFailed:
		return e.Reason == ReasonNotConnected || e.Reason == ReasonRefused
	case ErrTimeout:
		return e.Reason == ReasonTimeout
	case ErrProtocol:
		return e.Reason == ReasonProtocol
	}
	return false
}

func newError(kind Kind, reason Reason, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Classify wraps err in an *Error for kind. Errors that are already
// classified pass through unchanged.
func Classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		return err
	}

	return newError(kind, reasonFor(err), err)
}

func reasonFor(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ReasonTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ReasonRefused
	}

	return ReasonNotConnected
}

// ReasonOf extracts the tagged reason from err, or "" if err is not a
// transport error.
func ReasonOf(err error) Reason {
	var te *Error
	if errors.As(err, &te) {
		return te.Reason
	}
	return ""
}
