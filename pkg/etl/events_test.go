package etl

import (
	"testing"
	"time"

	"github.com/malbeclabs/sparkify/pkg/frame"
	st "github.com/malbeclabs/sparkify/pkg/source/testing"
	"github.com/stretchr/testify/require"
)

func TestETL_ParseRankPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseRankPolicy("")
	require.NoError(t, err)
	require.Equal(t, RankStrict, p)

	p, err = ParseRankPolicy("RANK")
	require.NoError(t, err)
	require.Equal(t, RankTies, p)

	_, err = ParseRankPolicy("dense")
	require.ErrorContains(t, err, "unknown rank policy")
}

func TestETL_UsersLatestEventWins(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first := st.Play("7", st.PlayTS, "A")
	first.Level = "free"
	latest := st.Play("7", st.PlayTS+60_000, "B")
	latest.Level = "paid"
	latest.LastName = "Married"
	logout := st.Play("7", st.PlayTS+120_000, "")
	logout.Page = "Logout"
	logout.Level = "free"
	other := st.Play("8", st.PlayTS, "C")
	st.WriteEvents(t, h.input, "2018/11", "events.json", first, latest, logout, other)
	st.WriteSongs(t, h.input, st.SampleSong())

	_, err := h.pipeline(t, nil).Run(t.Context(), StageAll)
	require.NoError(t, err)

	users := h.table(t, TableUsers, "userId")
	require.Equal(t, []frame.Row{
		{"userId": "7", "firstName": "First7", "lastName": "Married", "gender": "F", "level": "paid"},
		{"userId": "8", "firstName": "First8", "lastName": "Last8", "gender": "F", "level": "free"},
	}, users)
}

func tiedEvents(t *testing.T, h *harness) {
	a := st.Play("9", st.PlayTS, "A")
	a.Level = "free"
	a.ItemInSession = 1
	b := st.Play("9", st.PlayTS, "B")
	b.Level = "paid"
	b.ItemInSession = 2
	st.WriteEvents(t, h.input, "2018/11", "events.json", a, b)
	st.WriteSongs(t, h.input, st.SampleSong())
}

func TestETL_UsersTiePolicyStrict(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tiedEvents(t, h)

	_, err := h.pipeline(t, func(c *Config) { c.RankPolicy = RankStrict }).Run(t.Context(), StageAll)
	require.NoError(t, err)

	users := h.table(t, TableUsers)
	require.Len(t, users, 1)
	require.Equal(t, "paid", users[0]["level"], "higher itemInSession breaks the tie")
}

func TestETL_UsersTiePolicyRank(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tiedEvents(t, h)

	_, err := h.pipeline(t, func(c *Config) { c.RankPolicy = RankTies }).Run(t.Context(), StageAll)
	require.NoError(t, err)

	users := h.table(t, TableUsers, "level")
	require.Len(t, users, 2)
	require.Equal(t, "free", users[0]["level"])
	require.Equal(t, "paid", users[1]["level"])
}

func TestETL_WriteUsersDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tiedEvents(t, h)

	report, err := h.pipeline(t, func(c *Config) { c.WriteUsers = false }).Run(t.Context(), StageAll)
	require.NoError(t, err)

	var tables []string
	for _, r := range report.Results {
		tables = append(tables, r.Table)
	}
	require.Equal(t, []string{TableSongs, TableArtists, TableTime, TableSongplays}, tables)
}

func TestETL_ExtractEventsFiltersAndEnriches(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	raw := s.SQL(`SELECT * FROM (VALUES
		('u1', 'NextSong', 1541121934796::BIGINT, 1::BIGINT, 0::BIGINT, 'a', 'b', 'F', 'free', 'f.json'),
		('u1', 'Home',     1541121999999::BIGINT, 1::BIGINT, 1::BIGINT, 'a', 'b', 'F', 'free', 'f.json')
	) AS t(userId, page, ts, sessionId, itemInSession, firstName, lastName, gender, level, filename)`)

	events, err := ExtractEvents(t.Context(), raw, RankStrict)
	require.NoError(t, err)
	rows, err := events.Plays.Select("ts_int", "start_time").Collect(t.Context())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1541121934), rows[0]["ts_int"])
	startTime, ok := rows[0]["start_time"].(time.Time)
	require.True(t, ok)
	require.True(t, StartTime(st.PlayTS).Equal(startTime))

	n, err := events.Users.Count(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
