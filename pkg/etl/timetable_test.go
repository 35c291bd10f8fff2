package etl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	st "github.com/malbeclabs/sparkify/pkg/source/testing"
	"github.com/stretchr/testify/require"
)

func TestETL_DecomposeTimestamp(t *testing.T) {
	t.Parallel()

	parts := DecomposeTimestamp(StartTime(st.PlayTS))
	require.Equal(t, TimeParts{
		StartTime: time.Date(2018, 11, 2, 1, 25, 34, 0, time.UTC),
		Hour:      1,
		Day:       2,
		Week:      44,
		Month:     11,
		Year:      2018,
		Weekday:   6,
	}, parts)
}

func TestETL_DecomposeTimeMatchesGo(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	stamps := []int64{
		st.PlayTS,
		1543622400000, // 2018-12-01, a Saturday
		1546214399999, // 2018-12-30 23:59:59.999, a Sunday in ISO week 52
		1546300800000, // 2019-01-01, ISO week 1
		0,
	}
	var values []string
	for _, ts := range stamps {
		values = append(values, fmt.Sprintf("(%d::BIGINT)", ts))
	}
	plays := s.SQL("SELECT * FROM (VALUES "+strings.Join(values, ", ")+") AS t(ts)").
		WithColumn("start_time", "make_timestamp((ts // 1000) * 1000000)")

	rows, err := DecomposeTime(plays).OrderBy("start_time").Collect(t.Context())
	require.NoError(t, err)
	require.Len(t, rows, len(stamps))

	byStart := map[int64]TimeParts{}
	for _, ts := range stamps {
		p := DecomposeTimestamp(StartTime(ts))
		byStart[p.StartTime.Unix()] = p
	}
	for _, r := range rows {
		got, ok := r["start_time"].(time.Time)
		require.True(t, ok)
		want, ok := byStart[got.Unix()]
		require.True(t, ok, "unexpected start_time %v", got)
		require.EqualValues(t, want.Hour, r["hour"], "hour of %v", got)
		require.EqualValues(t, want.Day, r["day"], "day of %v", got)
		require.EqualValues(t, want.Week, r["week"], "week of %v", got)
		require.EqualValues(t, want.Month, r["month"], "month of %v", got)
		require.EqualValues(t, want.Year, r["year"], "year of %v", got)
		require.EqualValues(t, want.Weekday, r["weekday"], "weekday of %v", got)
	}
}

func TestETL_TimeDistinctPerStartTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Two plays within the same second share one time row.
	st.WriteEvents(t, h.input, "2018/11", "events.json",
		st.Play("1", st.PlayTS, "A"),
		st.Play("2", st.PlayTS+100, "B"),
		st.Play("3", st.PlayTS+5_000, "C"),
	)
	st.WriteSongs(t, h.input, st.SampleSong())

	_, err := h.pipeline(t, nil).Run(t.Context(), StageAll)
	require.NoError(t, err)

	rows := h.table(t, TableTime, "start_time")
	require.Len(t, rows, 2)
	require.Equal(t, "2018", rows[0]["year"])
	require.Equal(t, "11", rows[0]["month"])
	require.EqualValues(t, 44, rows[0]["week"])
	require.EqualValues(t, 6, rows[0]["weekday"])

	_, err = os.Stat(filepath.Join(h.output, TableTime, "year=2018", "month=11"))
	require.NoError(t, err)
}

func TestETL_TimeUnpartitioned(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	st.WriteEvents(t, h.input, "2018/11", "events.json", st.Play("1", st.PlayTS, "A"))
	st.WriteSongs(t, h.input, st.SampleSong())

	_, err := h.pipeline(t, func(c *Config) { c.PartitionTime = false }).Run(t.Context(), StageAll)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(h.output, TableTime, "data_0.parquet"))
	require.NoError(t, err)
	rows := h.table(t, TableTime)
	require.Len(t, rows, 1)
	require.EqualValues(t, 2018, rows[0]["year"])
}
