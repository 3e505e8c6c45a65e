// Package events carries notifications out of the framer and the parsers.
// Components take a Sink explicitly; there is no process-wide subscriber list.
package events

import (
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
)

// Port names where a piece of data came from. It is only used to tag
// notifications.
type Port interface {
	RemoteSocketName() string
	LocalSocketName() string
}

// Sink receives notifications synchronously on the caller's goroutine.
// Implementations must not block for long and must not panic.
type Sink interface {
	RawTextReceived(port Port, text string)
	MessageReady(port Port, message string)
	ParseError(port Port, err error)
	MeasMsgReady(port Port, msg *meas.MeasMsg)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are skipped.
type SinkFuncs struct {
	OnRawText    func(port Port, text string)
	OnMessage    func(port Port, message string)
	OnParseError func(port Port, err error)
	OnMeasMsg    func(port Port, msg *meas.MeasMsg)
}

func (s SinkFuncs) RawTextReceived(port Port, text string) {
	if s.OnRawText != nil {
		s.OnRawText(port, text)
	}
}

func (s SinkFuncs) MessageReady(port Port, message string) {
	if s.OnMessage != nil {
		s.OnMessage(port, message)
	}
}

func (s SinkFuncs) ParseError(port Port, err error) {
	if s.OnParseError != nil {
		s.OnParseError(port, err)
	}
}

func (s SinkFuncs) MeasMsgReady(port Port, msg *meas.MeasMsg) {
	if s.OnMeasMsg != nil {
		s.OnMeasMsg(port, msg)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) RawTextReceived(Port, string)      {}
func (Nop) MessageReady(Port, string)         {}
func (Nop) ParseError(Port, error)            {}
func (Nop) MeasMsgReady(Port, *meas.MeasMsg) {}

type multi []Sink

// Multi fans out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) RawTextReceived(port Port, text string) {
	for _, s := range m {
		s.RawTextReceived(port, text)
	}
}

func (m multi) MessageReady(port Port, message string) {
	for _, s := range m {
		s.MessageReady(port, message)
	}
}

func (m multi) ParseError(port Port, err error) {
	for _, s := range m {
		s.ParseError(port, err)
	}
}

func (m multi) MeasMsgReady(port Port, msg *meas.MeasMsg) {
	for _, s := range m {
		s.MeasMsgReady(port, msg)
	}
}

// NamedPort is a fixed Port, handy for files, stdin and tests.
type NamedPort struct {
	Remote string
	Local  string
}

func (p NamedPort) RemoteSocketName() string { return p.Remote }
func (p NamedPort) LocalSocketName() string  { return p.Local }

// PortName is the remote name of p, or "-" when p is nil.
func PortName(p Port) string {
	if p == nil {
		return "-"
	}
	return p.RemoteSocketName()
}
