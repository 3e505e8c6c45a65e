package types

import "time"

// Wire form of a measurement message, as broadcast on /ws and /latest.
type MeasMsgReading struct {
	Station string     `json:"station"`
	Time    *time.Time `json:"time,omitempty"`
	Channel *int       `json:"channel,omitempty"`

	Measurements []MeasReading `json:"measurements"`
}

type MeasReading struct {
	Name    string    `json:"name"`
	Station string    `json:"station,omitempty"`
	ObsTime time.Time `json:"obs_time"`
	Value   string    `json:"value"`
	Status  string    `json:"status"`

	// Set only when the value parses as a number
	Numeric *float64 `json:"numeric,omitempty"`
}
