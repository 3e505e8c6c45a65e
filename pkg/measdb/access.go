package measdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/meas"
)

// InsertMeasMsg stores msg and its measurements in one transaction and
// returns the message id.
func InsertMeasMsg(msg *meas.MeasMsg, port string, receivedAt time.Time) (int64, error) {
	db := GetDB()

	obsTime, ok := msg.Time()
	if !ok {
		obsTime = receivedAt
	}
	var channel sql.NullInt64
	if c, err := msg.Channel(); err == nil {
		channel = sql.NullInt64{Int64: int64(c), Valid: true}
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO meas_msgs (station, obs_time, channel, port, received_at) "+
			"VALUES (?, ?, ?, ?, ?)",
		msg.Station(),
		obsTime.Unix(),
		channel,
		port,
		receivedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert meas_msgs: %w", err)
	}
	msgId, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		"INSERT INTO meas_values (msg_id, station, name, obs_time, value, numeric, status) " +
			"VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, m := range msg.Measurements() {
		var numeric sql.NullFloat64
		if v, ok := m.Double(); ok {
			numeric = sql.NullFloat64{Float64: v, Valid: true}
		}
		station := m.Station()
		if station == "" {
			station = msg.Station()
		}
		if _, err := stmt.Exec(msgId, station, m.Name(), m.ObsTime().Unix(), m.Value(), numeric, int(m.Status())); err != nil {
			return 0, fmt.Errorf("insert meas_values: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return msgId, nil
}

// GetLatestMeasMsg rebuilds the most recent message stored for station.
// It returns nil, nil when there is none.
func GetLatestMeasMsg(station string) (*meas.MeasMsg, error) {
	db := GetDB()

	var row MeasDbMsg
	err := db.QueryRow(
		"SELECT id, station, obs_time, channel FROM meas_msgs "+
			"WHERE station = ? ORDER BY obs_time DESC, id DESC LIMIT 1",
		station,
	).Scan(&row.Id, &row.Station, &row.ObsTime, &row.Channel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	values, err := getValuesByMsg(row.Id)
	if err != nil {
		return nil, err
	}

	msg := meas.NewMeasMsg()
	msg.SetStation(row.Station)
	if row.Channel.Valid {
		msg.SetChannel(int(row.Channel.Int64))
	}
	for _, v := range values {
		msg.Add(meas.NewMeas(v.Name, time.Unix(v.ObsTime, 0).UTC(), v.Value, meas.Status(v.Status), v.Station))
	}
	msg.Retime(time.Unix(row.ObsTime, 0).UTC())
	return msg, nil
}

func getValuesByMsg(msgId int64) ([]MeasDbValue, error) {
	rows, err := GetDB().Query(
		"SELECT id, msg_id, station, name, obs_time, value, numeric, status "+
			"FROM meas_values WHERE msg_id = ? ORDER BY id",
		msgId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanValues(rows)
}

// GetMeasValues returns every stored value of name at station observed in
// [from, to], oldest first.
func GetMeasValues(station, name string, from, to time.Time) ([]MeasDbValue, error) {
	rows, err := GetDB().Query(
		"SELECT id, msg_id, station, name, obs_time, value, numeric, status "+
			"FROM meas_values WHERE station = ? AND name = ? AND obs_time >= ? AND obs_time <= ? "+
			"ORDER BY obs_time, id",
		station, name, from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanValues(rows)
}

func scanValues(rows *sql.Rows) ([]MeasDbValue, error) {
	var out []MeasDbValue
	for rows.Next() {
		var v MeasDbValue
		if err := rows.Scan(&v.Id, &v.MsgId, &v.Station, &v.Name, &v.ObsTime, &v.Value, &v.Numeric, &v.Status); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteMeasMsgsBefore removes messages observed before cutoff together with
// their values and returns the number of messages removed.
func DeleteMeasMsgsBefore(cutoff int64) (int64, error) {
	tx, err := GetDB().Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM meas_values WHERE msg_id IN (SELECT id FROM meas_msgs WHERE obs_time < ?)",
		cutoff,
	); err != nil {
		return 0, err
	}
	res, err := tx.Exec("DELETE FROM meas_msgs WHERE obs_time < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// GetHourlyAggregates returns the aggregates of name at station for hours
// starting in [from, to].
func GetHourlyAggregates(station, name string, from, to int64) ([]AggregateMeasHourly, error) {
	rows, err := GetDB().Query(
		"SELECT hour_start, station, name, min_value, avg_value, max_value, sample_count "+
			"FROM aggregate_meas_hourly WHERE station = ? AND name = ? AND hour_start >= ? AND hour_start <= ? "+
			"ORDER BY hour_start",
		station, name, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AggregateMeasHourly
	for rows.Next() {
		var a AggregateMeasHourly
		if err := rows.Scan(&a.HourStart, &a.Station, &a.Name, &a.MinValue, &a.AvgValue, &a.MaxValue, &a.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
