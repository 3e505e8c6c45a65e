package measdb

import "database/sql"

type MeasDbMsg struct {
	Id         int64         `db:"id"`
	Station    string        `db:"station"`
	ObsTime    int64         `db:"obs_time"`
	Channel    sql.NullInt64 `db:"channel"`
	Port       string        `db:"port"`
	ReceivedAt int64         `db:"received_at"`
}

type MeasDbValue struct {
	Id      int64           `db:"id"`
	MsgId   int64           `db:"msg_id"`
	Station string          `db:"station"`
	Name    string          `db:"name"`
	ObsTime int64           `db:"obs_time"`
	Value   string          `db:"value"`
	Numeric sql.NullFloat64 `db:"numeric"`
	Status  int             `db:"status"`
}

type AggregateMeasHourly struct {
	HourStart   int64   `db:"hour_start"`
	Station     string  `db:"station"`
	Name        string  `db:"name"`
	MinValue    float64 `db:"min_value"`
	AvgValue    float64 `db:"avg_value"`
	MaxValue    float64 `db:"max_value"`
	SampleCount int64   `db:"sample_count"`
}
