package smsaws

import (
	"strings"

	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
)

// DefaultSemicolonReplacement stands in for ';' inside encoded values.
const DefaultSemicolonReplacement = ","

// Code renders msg as "(S:..;D:YYMMDD;T:HHMMSS;NAME:value;...)".
func Code(msg *meas.MeasMsg) string {
	return CodeWith(msg, DefaultSemicolonReplacement)
}

// CodeWith is Code with a custom replacement for ';' in values. It returns
// "" for an empty message.
func CodeWith(msg *meas.MeasMsg, replacement string) string {
	if msg.Count() == 0 {
		return ""
	}
	ms := msg.Measurements()
	t, ok := msg.Time()
	if !ok {
		t = ms[0].ObsTime()
	}
	station := msg.Station()
	if station == "" {
		station = ms[0].Station()
	}

	var sb strings.Builder
	sb.WriteString("(S:")
	sb.WriteString(station)
	sb.WriteString(";D:")
	sb.WriteString(t.Format("060102"))
	sb.WriteString(";T:")
	sb.WriteString(t.Format("150405"))
	for _, m := range ms {
		sb.WriteByte(';')
		sb.WriteString(m.Name())
		sb.WriteByte(':')
		sb.WriteString(strings.ReplaceAll(m.Value(), ";", replacement))
	}
	sb.WriteByte(')')
	return sb.String()
}
