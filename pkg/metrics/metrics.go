// Package metrics counts ingest activity per port for Prometheus.
package metrics

import (
	"errors"

	"github.com/NotCoffee418/sensor_gateway/pkg/events"
	"github.com/NotCoffee418/sensor_gateway/pkg/ingesterr"
	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	BytesReceived    *prometheus.CounterVec
	MessagesFramed   *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	MeasMsgs         *prometheus.CounterVec
	Measurements     *prometheus.CounterVec
	LastMeasMsgEpoch *prometheus.GaugeVec
}

// New registers the ingest metrics on reg. A nil reg returns nil, which
// leaves every sink undecorated.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		BytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensor_gateway",
				Subsystem: "port",
				Name:      "received_bytes_total",
				Help:      "Bytes read from the port",
			},
			[]string{"port"},
		),
		MessagesFramed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensor_gateway",
				Subsystem: "port",
				Name:      "framed_messages_total",
				Help:      "Complete messages cut from the byte stream",
			},
			[]string{"port"},
		),
		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensor_gateway",
				Subsystem: "parse",
				Name:      "errors_total",
				Help:      "Rejected messages and fields by error class",
			},
			[]string{"port", "class"},
		),
		MeasMsgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensor_gateway",
				Subsystem: "parse",
				Name:      "meas_msgs_total",
				Help:      "Measurement messages produced",
			},
			[]string{"port", "station"},
		),
		Measurements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sensor_gateway",
				Subsystem: "parse",
				Name:      "measurements_total",
				Help:      "Individual measurements produced",
			},
			[]string{"port"},
		),
		LastMeasMsgEpoch: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sensor_gateway",
				Subsystem: "parse",
				Name:      "last_meas_msg_timestamp_seconds",
				Help:      "Observation time of the latest measurement message",
			},
			[]string{"port"},
		),
	}
	reg.MustRegister(
		m.BytesReceived,
		m.MessagesFramed,
		m.ParseErrors,
		m.MeasMsgs,
		m.Measurements,
		m.LastMeasMsgEpoch,
	)
	return m
}

// Sink wraps next so every notification is counted before it is passed on.
func (m *Metrics) Sink(next events.Sink) events.Sink {
	if m == nil {
		return next
	}
	if next == nil {
		next = events.Nop{}
	}
	return &countingSink{m: m, next: next}
}

type countingSink struct {
	m    *Metrics
	next events.Sink
}

func (s *countingSink) RawTextReceived(port events.Port, text string) {
	s.m.BytesReceived.WithLabelValues(events.PortName(port)).Add(float64(len(text)))
	s.next.RawTextReceived(port, text)
}

func (s *countingSink) MessageReady(port events.Port, message string) {
	s.m.MessagesFramed.WithLabelValues(events.PortName(port)).Inc()
	s.next.MessageReady(port, message)
}

func (s *countingSink) ParseError(port events.Port, err error) {
	s.m.ParseErrors.WithLabelValues(events.PortName(port), errorClass(err)).Inc()
	s.next.ParseError(port, err)
}

func (s *countingSink) MeasMsgReady(port events.Port, msg *meas.MeasMsg) {
	name := events.PortName(port)
	s.m.MeasMsgs.WithLabelValues(name, msg.Station()).Inc()
	s.m.Measurements.WithLabelValues(name).Add(float64(msg.Count()))
	if t, ok := msg.Time(); ok {
		s.m.LastMeasMsgEpoch.WithLabelValues(name).Set(float64(t.Unix()))
	}
	s.next.MeasMsgReady(port, msg)
}

func errorClass(err error) string {
	var pe *ingesterr.ParseError
	if errors.As(err, &pe) {
		return pe.Class.String()
	}
	return "unknown"
}
