package protocol

import (
	"errors"
	"fmt"
)

// ErrTransportClosed reports that the peer ended the stream or the session
// was closed locally. Every request still pending at that point fails with it.
var ErrTransportClosed = errors.New("transport closed")

// ErrProtocolViolation matches every ViolationError.
var ErrProtocolViolation = errors.New("protocol violation")

// Sentinels for the individual violation kinds, for use with errors.Is.
var (
	ErrIncomplete  = errors.New("incomplete frame")
	ErrMalformed   = errors.New("malformed message")
	ErrUnsolicited = errors.New("unsolicited response")
)

// Violation classifies a ViolationError.
type Violation int

const (
	// Incomplete: the stream ended after part of a frame was read.
	Incomplete Violation = iota + 1
	// Malformed: the frame or the message inside it could not be parsed.
	Malformed
	// Unsolicited: a response arrived with no pending request to receive it.
	Unsolicited
)

func (v Violation) String() string {
	switch v {
	case Incomplete:
		return "incomplete"
	case Malformed:
		return "malformed"
	case Unsolicited:
		return "unsolicited"
	default:
		return fmt.Sprintf("Violation(%d)", int(v))
	}
}

func (v Violation) sentinel() error {
	switch v {
	case Incomplete:
		return ErrIncomplete
	case Malformed:
		return ErrMalformed
	case Unsolicited:
		return ErrUnsolicited
	default:
		return nil
	}
}

// ViolationError is a ProtocolViolation. It indicates a host bug or a
// correlation bug, never a transient condition.
type ViolationError struct {
	Violation Violation
	Err       error
}

func newViolation(v Violation, err error) *ViolationError {
	return &ViolationError{Violation: v, Err: err}
}

// NewViolation returns a ViolationError of kind v wrapping err.
func NewViolation(v Violation, err error) error {
	return newViolation(v, err)
}

func (e *ViolationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol violation (%s)", e.Violation)
	}
	return fmt.Sprintf("protocol violation (%s): %v", e.Violation, e.Err)
}

// Unwrap exposes ErrProtocolViolation, the per-kind sentinel and the cause.
func (e *ViolationError) Unwrap() []error {
	errs := []error{ErrProtocolViolation}
	if s := e.Violation.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
