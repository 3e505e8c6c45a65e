package aggregator

import (
	"database/sql"
	"time"

	"github.com/NotCoffee418/sensor_gateway/pkg/measdb"
	"github.com/charmbracelet/log"
)

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// getHourEnd returns the Unix timestamp of the last second of the hour (next hour start - 1)
func getHourEnd(hourStart int64) int64 {
	return time.Unix(hourStart, 0).Add(time.Hour).Unix() - 1
}

// aggregateMeasHourly stores min/avg/max/count of every numeric value per
// station and name observed in the hour.
func aggregateMeasHourly(hourStart int64) (int64, error) {
	db := measdb.GetDB()
	hourEnd := getHourEnd(hourStart)

	query := `
		INSERT OR REPLACE INTO aggregate_meas_hourly
		(hour_start, station, name, min_value, avg_value, max_value, sample_count)
		SELECT
			?,
			station,
			name,
			MIN(numeric),
			AVG(numeric),
			MAX(numeric),
			COUNT(*)
		FROM meas_values
		WHERE numeric IS NOT NULL AND obs_time >= ? AND obs_time <= ?
		GROUP BY station, name
	`

	res, err := db.Exec(query, hourStart, hourStart, hourEnd)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// cleanupOldData removes raw messages older than retentionDays if we have aggregated them
func cleanupOldData(now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	db := measdb.GetDB()

	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	cutoffTimestamp := cutoff.Unix()

	// Only clean up what the hourly aggregates already cover
	var lastAggregateHour sql.NullInt64
	if err := db.QueryRow("SELECT MAX(hour_start) FROM aggregate_meas_hourly").Scan(&lastAggregateHour); err != nil {
		return err
	}
	if !lastAggregateHour.Valid || lastAggregateHour.Int64 < cutoffTimestamp {
		return nil
	}

	removed, err := measdb.DeleteMeasMsgsBefore(cutoffTimestamp)
	if err != nil {
		return err
	}

	log.Infof("Cleaned up %d messages older than %s", removed, cutoff.Format(time.RFC3339))
	return nil
}

// AggregateAndCleanup performs all aggregation and cleanup tasks
// This is the main function to call for data aggregation
func AggregateAndCleanup(now time.Time, retentionDays int) error {
	// Aggregate the previous hour (current hour is still ongoing)
	hourStart := roundToHourStart(now.Add(-time.Hour))

	log.Infof("Aggregating data for hour starting at %s", time.Unix(hourStart, 0).UTC().Format(time.RFC3339))

	rows, err := aggregateMeasHourly(hourStart)
	if err != nil {
		log.Error("Error aggregating hourly measurements", "err", err)
		return err
	}
	log.Debug("hourly aggregates written", "rows", rows)

	// Run cleanup
	if err := cleanupOldData(now, retentionDays); err != nil {
		log.Error("Error cleaning up old data", "err", err)
		return err
	}

	log.Info("Aggregation and cleanup completed successfully")
	return nil
}

// Backfill aggregates every full hour between from and now.
func Backfill(from, now time.Time) error {
	last := roundToHourStart(now)
	for hour := roundToHourStart(from); hour < last; hour += 3600 {
		if _, err := aggregateMeasHourly(hour); err != nil {
			return err
		}
	}
	return nil
}
