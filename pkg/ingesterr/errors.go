// Package ingesterr classifies errors raised while framing and parsing sensor
// data. Nothing in the parsing core is fatal: every failure is reported and
// the offending message dropped.
package ingesterr

import (
	"errors"
	"fmt"
)

type Class int

const (
	// Invalid input, drop the message
	ClassInvalid Class = iota
	// Transport trouble, retrying may help
	ClassTransient
	// Unexpected condition caught at a call boundary
	ClassUnexpected
)

func (c Class) String() string {
	switch c {
	case ClassInvalid:
		return "invalid"
	case ClassTransient:
		return "transient"
	case ClassUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyInput   = errors.New("empty input")
	ErrStation      = errors.New("invalid station")
	ErrDate         = errors.New("invalid date")
	ErrTime         = errors.New("invalid time")
	ErrValue        = errors.New("invalid value field")
	ErrStructure    = errors.New("malformed message structure")
	ErrChecksum     = errors.New("checksum validation failed")
	ErrNoMeas       = errors.New("no measurements parsed")
	ErrUnexpected   = errors.New("unexpected failure")
	ErrNotConnected = errors.New("not connected")
)

// ParseError is what the parse-error notification carries.
type ParseError struct {
	Class  Class
	Port   string
	Op     string
	Reason string
	Input  string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Op + ": " + e.Reason
	if e.Port != "" {
		msg = e.Port + ": " + msg
	}
	if e.Err != nil && e.Reason != e.Err.Error() {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Invalid builds a ParseError for bad input. err is usually one of the
// sentinels above.
func Invalid(op string, err error, reason string, input string) *ParseError {
	return &ParseError{Class: ClassInvalid, Op: op, Reason: reason, Input: input, Err: err}
}

// Recovered turns a recovered panic value into a ParseError.
func Recovered(op string, r any, input string) *ParseError {
	return &ParseError{
		Class:  ClassUnexpected,
		Op:     op,
		Reason: fmt.Sprintf("recovered: %v", r),
		Input:  input,
		Err:    ErrUnexpected,
	}
}

// Wrap follows "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps a transport error so IsTransient recognises it.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ParseError{Class: ClassTransient, Op: component + "." + method, Reason: wrapped.Error(), Err: wrapped}
}

// WithPort stamps the port name onto a ParseError, or wraps a plain error.
func WithPort(err error, port string) error {
	if err == nil {
		return nil
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		cp := *pe
		cp.Port = port
		return &cp
	}
	return &ParseError{Class: ClassUnexpected, Port: port, Op: "unknown", Reason: err.Error(), Err: err}
}

func classOf(err error) (Class, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Class, true
	}
	return 0, false
}

func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if c, ok := classOf(err); ok {
		return c == ClassInvalid
	}
	return errors.Is(err, ErrStation) ||
		errors.Is(err, ErrDate) ||
		errors.Is(err, ErrTime) ||
		errors.Is(err, ErrValue) ||
		errors.Is(err, ErrStructure) ||
		errors.Is(err, ErrChecksum) ||
		errors.Is(err, ErrEmptyInput)
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if c, ok := classOf(err); ok {
		return c == ClassTransient
	}
	return errors.Is(err, ErrNotConnected)
}
