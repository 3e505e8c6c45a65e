package meas

import (
	"encoding/json"

	"github.com/NotCoffee418/sensor_gateway/pkg/types"
)

// Reading converts the message to its wire form.
func (m *MeasMsg) Reading() types.MeasMsgReading {
	r := types.MeasMsgReading{
		Station:      m.station,
		Measurements: make([]types.MeasReading, 0, len(m.meas)),
	}
	if t, ok := m.Time(); ok {
		r.Time = &t
	}
	if ch, err := m.Channel(); err == nil {
		r.Channel = &ch
	}
	for _, x := range m.meas {
		mr := types.MeasReading{
			Name:    x.name,
			Station: x.station,
			ObsTime: x.obsTime,
			Value:   x.obsValue,
			Status:  x.status.String(),
		}
		if f, ok := x.Double(); ok {
			mr.Numeric = &f
		}
		r.Measurements = append(r.Measurements, mr)
	}
	return r
}

// FromReading rebuilds a message from its wire form.
func FromReading(r types.MeasMsgReading) *MeasMsg {
	m := NewMeasMsg()
	m.station = r.Station
	if r.Time != nil {
		t := *r.Time
		m.obsTime = &t
	}
	if r.Channel != nil {
		m.SetChannel(*r.Channel)
	}
	for _, mr := range r.Measurements {
		m.Add(NewMeas(mr.Name, mr.ObsTime, mr.Value, ParseStatus(mr.Status), mr.Station))
	}
	return m
}

func (m *MeasMsg) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Reading())
}

func (m *MeasMsg) UnmarshalJSON(data []byte) error {
	var r types.MeasMsgReading
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*m = *FromReading(r)
	return nil
}

func (m *MeasMsg) ToJsonBytes() ([]byte, error) {
	return json.Marshal(m.Reading())
}

// MeasMsgFromJsonBytes returns nil when data is not a message.
func MeasMsgFromJsonBytes(data []byte) *MeasMsg {
	m := NewMeasMsg()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil
	}
	return m
}
