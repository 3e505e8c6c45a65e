package port_reader

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/NotCoffee418/sensor_gateway/pkg/config"
	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/framer"
	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/NotCoffee418/sensor_gateway/pkg/p1"
	"github.com/NotCoffee418/sensor_gateway/pkg/parser"
	"github.com/NotCoffee418/sensor_gateway/pkg/smsaws"
	"github.com/charmbracelet/log"
	"github.com/jacobsa/go-serial/serial"
)

const (
	// Tolerance before we report error.
	maxConsecutiveErrors = 10
	reconnectDelay       = time.Second
	dialTimeout          = 10 * time.Second
	readBufferSize       = 1024
)

// Initialize a new Reader for a configured port. sink receives every
// notification; it may be nil.
func NewReader(cfg config.PortConfig, sink events.Sink) *Reader {
	if sink == nil {
		sink = events.Nop{}
	}
	r := &Reader{
		cfg:    cfg,
		sink:   sink,
		logger: log.Default().With("port", cfg.Name),
	}
	r.dial = r.open

	framerSink := events.Multi(sink, events.SinkFuncs{OnMessage: func(_ events.Port, frame string) {
		r.handleFrame(frame)
	}})

	switch cfg.Protocol {
	case "p1":
		r.framer = framer.New(framer.Options{EndChar: '\n', Logger: r.logger}, framerSink, r)
		r.p1 = p1.NewParser(p1.Config{Station: cfg.Station, Logger: r.logger}, sink, r)
	default:
		r.framer = framer.New(framer.Options{
			EndChar:  endChar(cfg.EndChar),
			UseCRC32: cfg.UseCRC32,
			Logger:   r.logger,
		}, framerSink, r)

		pcfg := parser.DefaultConfig()
		pcfg.IndexOfFirstValue = cfg.IndexOfFirstValue
		pcfg.RoundSecondsToMinute = cfg.RoundSecondsToMinute
		pcfg.Logger = r.logger
		r.smsaws = smsaws.NewParser(pcfg, sink, r)
	}
	return r
}

func endChar(s string) rune {
	if s == "" {
		return framer.DefaultEndChar
	}
	c, _ := utf8.DecodeRuneInString(s)
	return c
}

func (r *Reader) Name() string {
	return r.cfg.Name
}

func (r *Reader) RemoteSocketName() string {
	if r.cfg.Transport == "tcp" {
		return "tcp://" + r.cfg.Address
	}
	return r.cfg.SerialDevice
}

func (r *Reader) LocalSocketName() string {
	return r.cfg.Name
}

// Start listening for messages.
// Runs in goroutine. handleMeasMsg() also runs in goroutine.
func (r *Reader) StartReading(
	handleMeasMsg func(msg *meas.MeasMsg),
	handleError func(error),
) {
	r.stopSignal.Store(false)
	r.handleMeasMsg = handleMeasMsg

	go func() {
		consecutiveErrors := 0
		var lastError error

		// Initialize the connection
		if err := r.connect(); err != nil {
			handleError(err)
			return
		}

		buf := make([]byte, readBufferSize)
		for consecutiveErrors < maxConsecutiveErrors {
			// Check for Stop command
			if r.stopSignal.Load() {
				r.logger.Info("Stop signal received, disconnecting")
				r.disconnect()
				return
			}

			n, err := r.read(buf)
			if n > 0 {
				r.Feed(buf[:n])
				consecutiveErrors = 0
			}
			if err != nil {
				if r.stopSignal.Load() {
					return
				}
				consecutiveErrors++
				lastError = err
				r.logger.Warnf("Error reading port (%d/%d): %v", consecutiveErrors, maxConsecutiveErrors, err)
				time.Sleep(reconnectDelay)
				r.reconnect()
			}
		}

		r.logger.Errorf("Too many consecutive errors (%d), stopping reader: %v", maxConsecutiveErrors, lastError)
		handleError(lastError)
		r.disconnect()
	}()
}

func (r *Reader) StopReading() {
	r.stopSignal.Store(true)
	r.disconnect()
}

func (r *Reader) GetLatestMeasMsg() *meas.MeasMsg {
	r.latestMu.RLock()
	defer r.latestMu.RUnlock()
	return r.latestMeasMsg
}

// Feed pushes bytes read from the port through the framer. Only the reading
// goroutine may call it while the reader is running.
func (r *Reader) Feed(chunk []byte) bool {
	return r.framer.AppendAndParse(string(chunk))
}

// Open the connection to the configured port.
func (r *Reader) open() (io.ReadWriteCloser, error) {
	switch r.cfg.Transport {
	case "tcp":
		conn, err := net.DialTimeout("tcp", r.cfg.Address, dialTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", r.cfg.Address, err)
		}
		return conn, nil
	default:
		options := serial.OpenOptions{
			PortName:        r.cfg.SerialDevice,
			BaudRate:        r.cfg.Baudrate,
			DataBits:        8,
			StopBits:        1,
			MinimumReadSize: 1,
		}
		port, err := serial.Open(options)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
		return port, nil
	}
}

func (r *Reader) connect() error {
	conn, err := r.dial()
	if err != nil {
		return ingesterr.WrapTransient(err, "port_reader", "connect", "open "+r.RemoteSocketName())
	}
	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
	r.logger.Infof("Connected to %s", r.RemoteSocketName())
	return nil
}

func (r *Reader) reconnect() {
	r.disconnect()
	r.resetStream()
	if err := r.connect(); err != nil {
		r.logger.Warn("reconnect failed", "err", err)
	}
}

// resetStream drops partial data from the previous connection so it is not
// glued onto the first message of the next one.
func (r *Reader) resetStream() {
	r.framer.Reset()
	r.remainder = ""
	r.assembler.Reset()
}

func (r *Reader) disconnect() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
		r.logger.Info("Disconnected")
	}
}

func (r *Reader) read(buf []byte) (int, error) {
	r.connMu.Lock()
	conn := r.conn
	r.connMu.Unlock()
	if conn == nil {
		return 0, ingesterr.ErrNotConnected
	}
	return conn.Read(buf)
}

// handleFrame runs for every message the framer emits.
func (r *Reader) handleFrame(frame string) {
	if r.p1 != nil {
		if telegram, ok := r.assembler.Line(frame); ok {
			if msg, err := r.p1.ParseTelegram(telegram); err == nil {
				r.publish(msg)
			}
		}
		return
	}

	if r.cfg.UseCRC32 {
		if r.cfg.VerifyCRC32 {
			payload, err := framer.VerifyCRC32(frame)
			if err != nil {
				r.report(err)
				return
			}
			frame = payload
		} else if payload, _, ok := framer.SplitCRC32(frame); ok {
			frame = payload
		}
	}

	if r.cfg.Multi {
		result := r.smsaws.ParseMessageIntoMultipleMeasMsg(r.remainder + frame)
		r.remainder = result.Remainder
		for _, msg := range result.Messages {
			r.publish(msg)
		}
		return
	}

	subs := smsaws.FindSubMessages(frame)
	if len(subs) == 0 {
		if strings.Contains(frame, "(S:") {
			r.report(ingesterr.Invalid("port_reader.handleFrame", ingesterr.ErrStructure, "nested '(' in message", frame))
			return
		}
		subs = []string{frame}
	}
	for _, sub := range subs {
		if msg, err := r.smsaws.ParseMessageIntoMeasMsg(sub); err == nil {
			r.publish(msg)
		}
	}
}

func (r *Reader) publish(msg *meas.MeasMsg) {
	r.latestMu.Lock()
	r.latestMeasMsg = msg
	r.latestMu.Unlock()

	r.sink.MeasMsgReady(r, msg)
	if r.handleMeasMsg != nil {
		go r.handleMeasMsg(msg)
	}
}

func (r *Reader) report(err error) {
	err = ingesterr.WithPort(err, events.PortName(r))
	r.logger.Warn("message dropped", "err", err)
	r.sink.ParseError(r, err)
}
