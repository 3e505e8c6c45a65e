// Package meas holds the measurement model every protocol parser produces:
// a single named observation (Meas) and an ordered batch of observations
// sharing one station and time (MeasMsg).
package meas

import (
	"fmt"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/measutil"
)

// Layout used when a measurement is rendered as a MEAS line.
const RenderTimeLayout = "2006-01-02 15:04:05"

type Status int

const (
	StatusOK Status = iota
	StatusNotOK
)

func (s Status) String() string {
	if s == StatusOK {
		return "OK"
	}
	return "NOT_OK"
}

// ParseStatus is the inverse of Status.String. Unknown input is NOT_OK.
func ParseStatus(s string) Status {
	if s == "OK" {
		return StatusOK
	}
	return StatusNotOK
}

// Meas is one named observation. It is a value type: build it with NewMeas
// and replace it whole rather than mutating it.
type Meas struct {
	name     string
	obsTime  time.Time
	obsValue string
	status   Status
	station  string

	hasDouble   bool
	doubleValue float64
}

// NewMeas cleans the value (tabs, CR, LF stripped and trimmed) and caches its
// numeric form when it parses as a decimal.
func NewMeas(name string, obsTime time.Time, value string, status Status, station string) Meas {
	m := Meas{
		name:     name,
		obsTime:  obsTime,
		obsValue: measutil.CleanValue(value),
		status:   status,
		station:  station,
	}
	m.doubleValue, m.hasDouble = measutil.ParseDouble(m.obsValue)
	return m
}

func (m Meas) Name() string       { return m.name }
func (m Meas) ObsTime() time.Time { return m.obsTime }
func (m Meas) Value() string      { return m.obsValue }
func (m Meas) Status() Status     { return m.status }
func (m Meas) Station() string    { return m.station }

// Double returns the cached numeric value.
func (m Meas) Double() (float64, bool) {
	return m.doubleValue, m.hasDouble
}

// IsMissing reports whether the value carries the '/' missing-data marker.
func (m Meas) IsMissing() bool {
	return measutil.HasMissingMarker(m.obsValue)
}

func (m Meas) WithStation(station string) Meas {
	m.station = station
	return m
}

func (m Meas) WithObsTime(t time.Time) Meas {
	m.obsTime = t
	return m
}

// SameName is partial name equality: two measurements with the same name
// match regardless of station, time or value.
func (m Meas) SameName(other Meas) bool {
	return m.name == other.name
}

// FullyEqual compares station, time, value and the rendered line.
func (m Meas) FullyEqual(other Meas) bool {
	return m.station == other.station &&
		m.obsTime.Equal(other.obsTime) &&
		m.obsValue == other.obsValue &&
		m.String() == other.String()
}

// Render produces the tab-delimited MEAS line. An empty station on the
// measurement is replaced by defaultStation.
func (m Meas) Render(defaultStation string) string {
	station := m.station
	if station == "" {
		station = defaultStation
	}
	return fmt.Sprintf("MEAS\t%s\t\t\t%s\tNONE\t\t%s\t%s\t%d\t0",
		station, m.name, m.obsTime.Format(RenderTimeLayout), m.obsValue, m.status)
}

func (m Meas) String() string {
	return m.Render("")
}
