package obelus

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolError is raised for any frame the wire format does not
// allow: an unparseable header line, a missing/garbled banner, or a
// block shape the state machine does not expect. It is fatal when an
// engine fails the connection with it (a bad banner, undecodable
// bytes, a malformed header under strict headers); non-fatal
// anomalies such as an unknown ActionID or an unhandled event are
// reported as a ProtocolError to the fault sink instead.
type ProtocolError struct {
	// Reason describes what was wrong with the frame.
	Reason string
	// Line is the offending raw line text, when there is one.
	Line string
}

func (e *ProtocolError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("obelus: protocol error: %s: %q", e.Reason, e.Line)
	}
	return fmt.Sprintf("obelus: protocol error: %s", e.Reason)
}

// NewProtocolError builds a ProtocolError with no offending line.
func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

// NewProtocolErrorLine builds a ProtocolError citing the offending line.
func NewProtocolErrorLine(reason, line string) *ProtocolError {
	return &ProtocolError{Reason: reason, Line: line}
}

// NotConnected is the outcome of a send attempted before the engine
// reached the state that send requires, or after the engine closed.
// The send returns a Deferred that has already failed with it.
type NotConnected struct {
	// Op names the call that was rejected, e.g. "send_action".
	Op string
}

func (e *NotConnected) Error() string {
	return fmt.Sprintf("obelus: %s: not connected", e.Op)
}

// ConnectionLost is the outcome every still-pending Deferred is failed
// with when the transport goes away. Cause is the underlying error
// passed to ConnectionLost, if any.
type ConnectionLost struct {
	Cause error
}

func (e *ConnectionLost) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("obelus: connection lost: %s", e.Cause)
	}
	return "obelus: connection lost"
}

func (e *ConnectionLost) Unwrap() error { return e.Cause }

// NewConnectionLost wraps cause (which may be nil) with pkg/errors so
// a stack trace is attached the first time the error is constructed.
func NewConnectionLost(cause error) *ConnectionLost {
	if cause == nil {
		return &ConnectionLost{}
	}
	return &ConnectionLost{Cause: errors.WithStack(cause)}
}

// InvalidState is a programmer error: double-fulfilment of a Deferred,
// or any other call made out of the sequence the contract requires. It
// is surfaced synchronously, never via a sink.
type InvalidState struct {
	Reason string
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("obelus: invalid state: %s", e.Reason)
}
