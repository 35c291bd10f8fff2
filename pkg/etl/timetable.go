package etl

import (
	"time"

	"github.com/malbeclabs/sparkify/pkg/frame"
)

// DecomposeTime builds the time dimension: one row per distinct start_time
// with its calendar fields. The fields follow DecomposeTimestamp.
func DecomposeTime(plays *frame.Frame) *frame.Frame {
	return plays.Select(
		"start_time",
		"hour(start_time) AS hour",
		"day(start_time) AS day",
		"weekofyear(start_time) AS week",
		"month(start_time) AS month",
		"year(start_time) AS year",
		"dayofweek(start_time) + 1 AS weekday",
	).Distinct()
}

// TimeParts are the calendar fields of a start_time.
type TimeParts struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int // ISO-8601 week of year
	Month     int
	Year      int
	Weekday   int // 1 = Sunday ... 7 = Saturday
}

// StartTime truncates an epoch-millisecond ts to whole seconds in UTC.
func StartTime(tsMillis int64) time.Time {
	return time.Unix(tsMillis/1000, 0).UTC()
}

func DecomposeTimestamp(t time.Time) TimeParts {
	t = t.UTC()
	_, week := t.ISOWeek()
	return TimeParts{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   int(t.Weekday()) + 1,
	}
}
