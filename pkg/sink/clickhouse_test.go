package sink

import (
	"testing"
	"time"

	clickhousetesting "github.com/malbeclabs/sparkify/pkg/clickhouse/testing"
	"github.com/malbeclabs/sparkify/pkg/frame"
	"github.com/stretchr/testify/require"
)

func TestSink_ClickHouseType(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"VARCHAR":   "String",
		"INTEGER":   "Int32",
		"BIGINT":    "Int64",
		"DOUBLE":    "Float64",
		"TIMESTAMP": "DateTime64(6, 'UTC')",
		"boolean":   "Bool",
	} {
		got, err := clickHouseType(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := clickHouseType("STRUCT(a INTEGER)")
	require.ErrorContains(t, err, "unsupported column type")
}

func TestSink_CreateTableDDL(t *testing.T) {
	t.Parallel()

	ddl, err := createTableDDL("db.time_staging", []frame.Column{
		{Name: "start_time", Type: "TIMESTAMP"},
		{Name: "year", Type: "BIGINT"},
		{Name: "month", Type: "BIGINT"},
	}, []string{"year", "month"})
	require.NoError(t, err)
	require.Equal(t,
		"CREATE TABLE db.time_staging (`start_time` Nullable(DateTime64(6, 'UTC')), `year` Nullable(Int64), `month` Nullable(Int64)) ENGINE = MergeTree PARTITION BY (year, month) ORDER BY tuple() SETTINGS allow_nullable_key = 1",
		ddl)

	ddl, err = createTableDDL("db.users_staging", []frame.Column{{Name: "userId", Type: "VARCHAR"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "CREATE TABLE db.users_staging (`userId` Nullable(String)) ENGINE = MergeTree ORDER BY tuple() SETTINGS allow_nullable_key = 1", ddl)

	_, err = createTableDDL("db.x", []frame.Column{{Name: "m", Type: "MAP(VARCHAR, INTEGER)"}}, nil)
	require.ErrorContains(t, err, "column m")
}

func TestSink_ClickHouseConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := NewClickHouse(ClickHouseConfig{})
	require.ErrorContains(t, err, "logger is required")

	_, err = NewClickHouse(ClickHouseConfig{Logger: testLogger()})
	require.ErrorContains(t, err, "clickhouse client is required")
}

func TestSink_ClickHouseWrite(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := t.Context()
	db := clickhousetesting.NewDefaultDB(t)
	s := newTestSession(t)

	c, err := NewClickHouse(ClickHouseConfig{Logger: testLogger(), Client: db.Client, BatchSize: 2})
	require.NoError(t, err)

	timeSQL := `SELECT make_timestamp(1541121934000000) AS start_time, 2018::BIGINT AS year, 11::BIGINT AS month, NULL::VARCHAR AS note`
	res, err := c.Write(ctx, s.SQL(timeSQL), "time", WriteOptions{PartitionBy: []string{"year", "month"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Rows)
	require.Equal(t, "test.time", res.Location)

	res, err = c.Write(ctx, s.SQL(songsSQL), "songs", WriteOptions{PartitionBy: []string{"year", "artist_id"}})
	require.NoError(t, err)
	require.EqualValues(t, 3, res.Rows)

	res, err = c.Write(ctx, s.SQL(songsSQL).Where("song_id = 'S1'"), "songs", WriteOptions{PartitionBy: []string{"year", "artist_id"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Rows)

	conn := db.Conn()
	var count uint64
	require.NoError(t, conn.QueryRow(ctx, "SELECT count() FROM test.songs").Scan(&count))
	require.EqualValues(t, 1, count)

	var staging uint64
	require.NoError(t, conn.QueryRow(ctx, "SELECT count() FROM system.tables WHERE database = 'test' AND name LIKE '%_staging'").Scan(&staging))
	require.Zero(t, staging)

	var ts *time.Time
	require.NoError(t, conn.QueryRow(ctx, "SELECT start_time FROM test.time").Scan(&ts))
	require.NotNil(t, ts)
	require.Equal(t, time.Date(2018, 11, 2, 1, 25, 34, 0, time.UTC), ts.UTC())

	_, err = c.Write(ctx, s.SQL(songsSQL), "songs", WriteOptions{Mode: ErrorIfExists})
	require.ErrorIs(t, err, ErrTargetExists)
}
