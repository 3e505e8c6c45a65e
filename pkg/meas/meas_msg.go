package meas

import (
	"errors"
	"strings"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/measutil"
)

var ErrChannelNotSet = errors.New("channel not set")

// MeasMsg is an ordered batch of measurements sharing one station and time.
// Insertion order is kept and duplicate names are allowed.
type MeasMsg struct {
	station string
	obsTime *time.Time
	channel *int
	meas    []Meas
}

func NewMeasMsg() *MeasMsg {
	return &MeasMsg{}
}

func (m *MeasMsg) Station() string {
	return m.station
}

func (m *MeasMsg) SetStation(station string) {
	m.station = station
}

// Time returns the message time and whether it has been set.
func (m *MeasMsg) Time() (time.Time, bool) {
	if m.obsTime == nil {
		return time.Time{}, false
	}
	return *m.obsTime, true
}

// Retime sets the message time and rewrites the observation time of every
// contained measurement to match. O(n) in the number of measurements.
func (m *MeasMsg) Retime(t time.Time) {
	m.obsTime = &t
	for i := range m.meas {
		m.meas[i] = m.meas[i].WithObsTime(t)
	}
}

// Channel returns 0 and ErrChannelNotSet when no channel was assigned.
func (m *MeasMsg) Channel() (int, error) {
	if m.channel == nil {
		return 0, ErrChannelNotSet
	}
	return *m.channel, nil
}

func (m *MeasMsg) SetChannel(channel int) {
	m.channel = &channel
}

// Add appends a measurement. A measurement without station inherits the
// message station; a message without station picks up the first non-empty
// one it sees. The message time is taken from the first measurement added.
func (m *MeasMsg) Add(x Meas) {
	if x.station == "" && m.station != "" {
		x = x.WithStation(m.station)
	} else if m.station == "" && x.station != "" {
		m.station = x.station
	}
	if m.obsTime == nil {
		t := x.obsTime
		m.obsTime = &t
	}
	m.meas = append(m.meas, x)
}

func (m *MeasMsg) Count() int {
	if m == nil {
		return 0
	}
	return len(m.meas)
}

// Measurements returns a copy in insertion order.
func (m *MeasMsg) Measurements() []Meas {
	out := make([]Meas, len(m.meas))
	copy(out, m.meas)
	return out
}

// Get returns the first measurement with the given name.
func (m *MeasMsg) Get(name string) (Meas, bool) {
	for _, x := range m.meas {
		if x.name == name {
			return x, true
		}
	}
	return Meas{}, false
}

func (m *MeasMsg) Contains(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Replace swaps the first measurement sharing x's name for x.
func (m *MeasMsg) Replace(x Meas) bool {
	for i := range m.meas {
		if m.meas[i].SameName(x) {
			m.meas[i] = x
			return true
		}
	}
	return false
}

// Remove drops the first measurement with the given name.
func (m *MeasMsg) Remove(name string) bool {
	for i := range m.meas {
		if m.meas[i].name == name {
			m.meas = append(m.meas[:i], m.meas[i+1:]...)
			return true
		}
	}
	return false
}

// RoundSecondsToMinute moves the message, and every measurement in it, to
// the nearest whole minute.
func (m *MeasMsg) RoundSecondsToMinute() {
	if t, ok := m.Time(); ok {
		m.Retime(measutil.RoundToMinute(t))
	}
}

// CheckForDuplicateFilter reports whether other carries the same
// observation. Values must agree, except that a '/' in other where m has a
// real value is tolerated. The reverse is not: if m has a '/' that other
// lacks, other brings new data and is not a duplicate.
func (m *MeasMsg) CheckForDuplicateFilter(other *MeasMsg) bool {
	if other == nil {
		return false
	}
	if !sameTime(m.obsTime, other.obsTime) ||
		m.station != other.station ||
		m.Count() != other.Count() {
		return false
	}

	for _, x := range m.meas {
		y, ok := other.Get(x.name)
		if !ok {
			return false
		}
		if x.obsValue == y.obsValue {
			continue
		}
		if x.IsMissing() && !y.IsMissing() {
			return false
		}
		if !x.IsMissing() && y.IsMissing() {
			continue
		}
		return false
	}
	return true
}

// Merge folds other into m: unknown names are appended and values holding
// the missing-data marker are overridden by real values. It reports whether
// m changed.
func (m *MeasMsg) Merge(other *MeasMsg) bool {
	if other == nil {
		return false
	}
	changed := false
	for _, y := range other.meas {
		x, ok := m.Get(y.name)
		switch {
		case !ok:
			m.Add(y)
			changed = true
		case x.IsMissing() && !y.IsMissing():
			m.Replace(y.WithStation(x.station))
			changed = true
		}
	}
	return changed
}

// Lines renders every measurement as a MEAS line, message station used as
// the fallback for measurements without one.
func (m *MeasMsg) Lines() []string {
	lines := make([]string, 0, len(m.meas))
	for _, x := range m.meas {
		lines = append(lines, x.Render(m.station))
	}
	return lines
}

func (m *MeasMsg) String() string {
	return strings.Join(m.Lines(), "\r\n")
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
