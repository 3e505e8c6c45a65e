// Package framer turns arbitrarily sized reads from a sensor connection into
// complete messages terminated by an end character.
//
// A Framer owns a growing buffer and is not safe for concurrent use: each
// connection's reader loop owns exactly one Framer.
package framer

import (
	"bytes"
	"unicode/utf8"

	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/charmbracelet/log"
)

const (
	// MaxReadBlock is the buffer size at which held data is flushed as one
	// message even though no end character was seen.
	MaxReadBlock = 4096

	DefaultEndChar = ')'

	// Hex digits of a CRC32 suffix following the end character
	crcLength = 8
)

type Options struct {
	// Zero, or an invalid rune, means DefaultEndChar
	EndChar rune
	// Include an 8 hex digit CRC directly after the end character in the message
	UseCRC32 bool
	// Zero means MaxReadBlock
	MaxReadBlock int

	Logger *log.Logger
}

type Framer struct {
	endChar  rune
	useCRC32 bool
	maxBlock int

	buf    []byte
	sink   events.Sink
	port   events.Port
	logger *log.Logger
}

func New(opts Options, sink events.Sink, port events.Port) *Framer {
	if opts.EndChar == 0 || utf8.RuneLen(opts.EndChar) < 0 {
		opts.EndChar = DefaultEndChar
	}
	if opts.MaxReadBlock <= 0 {
		opts.MaxReadBlock = MaxReadBlock
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Framer{
		endChar:  opts.EndChar,
		useCRC32: opts.UseCRC32,
		maxBlock: opts.MaxReadBlock,
		sink:     sink,
		port:     port,
		logger:   opts.Logger.With("component", "framer", "port", events.PortName(port)),
	}
}

// AppendAndParse adds chunk to the buffer and emits every complete message
// it now holds. The raw chunk is always reported first. It returns false if
// an unexpected failure was caught; it never panics.
func (f *Framer) AppendAndParse(chunk string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := ingesterr.Recovered("framer.AppendAndParse", r, chunk)
			err.Port = events.PortName(f.port)
			f.logger.Error("framing failed", "err", err)
			f.sink.ParseError(f.port, err)
			ok = false
		}
	}()

	f.sink.RawTextReceived(f.port, chunk)
	f.buf = append(f.buf, chunk...)

	for {
		end := f.messageEnd()
		if end < 0 {
			break
		}
		message := string(f.buf[:end])
		f.buf = append(f.buf[:0], f.buf[end:]...)
		f.sink.MessageReady(f.port, message)
	}

	if len(f.buf) >= f.maxBlock {
		message := string(f.buf)
		f.buf = f.buf[:0]
		f.logger.Warn("no end character within read block, flushing", "size", len(message))
		f.sink.MessageReady(f.port, message)
	}
	return true
}

// messageEnd returns the length of the first complete message in the
// buffer, CRC suffix included, or -1.
func (f *Framer) messageEnd() int {
	idx := bytes.IndexRune(f.buf, f.endChar)
	if idx < 0 {
		return -1
	}
	end := idx + utf8.RuneLen(f.endChar)
	if f.useCRC32 && end+crcLength <= len(f.buf) && isHex(f.buf[end:end+crcLength]) {
		end += crcLength
	}
	return end
}

// Pending returns the data held back waiting for an end character.
func (f *Framer) Pending() string {
	return string(f.buf)
}

// Reset drops any held data, e.g. after a reconnect.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

func isHex(b []byte) bool {
	for _, c := range b {
		switch {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		default:
			return false
		}
	}
	return true
}
