package source_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/malbeclabs/sparkify/pkg/duck"
	ducktesting "github.com/malbeclabs/sparkify/pkg/duck/testing"
	"github.com/malbeclabs/sparkify/pkg/frame"
	"github.com/malbeclabs/sparkify/pkg/source"
	st "github.com/malbeclabs/sparkify/pkg/source/testing"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newSession(t *testing.T, s3 *duck.S3Config) *frame.Session {
	t.Helper()
	ctx := context.Background()

	db, err := duck.NewDB(ctx, "", testLogger())
	require.NoError(t, err)
	s, err := frame.NewSession(ctx, frame.SessionConfig{Logger: testLogger(), DB: db, S3: s3})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
		db.Close()
	})
	return s
}

func newReader(t *testing.T, cfg source.Config) *source.Reader {
	t.Helper()
	cfg.Logger = testLogger()
	r, err := source.NewReader(cfg)
	require.NoError(t, err)
	return r
}

func TestSource_Globs(t *testing.T) {
	t.Parallel()

	require.Equal(t, "s3://udacity-dend/song_data/*/*/*/*.json", source.SongsGlob("s3://udacity-dend/", ""))
	require.Equal(t, "file:///data/song_data/A/A/A/*.json", source.SongsGlob("file:///data", "song_data/A/A/A/*.json"))
	require.Equal(t, "s3://udacity-dend/log_data/2018/11/*.json", source.EventsGlob("s3://udacity-dend", ""))
	require.Equal(t, "file:///data/log_data/2019/01/*.json", source.EventsGlob("file:///data", "2019/01"))
}

func TestSource_NewReaderRequiresLogger(t *testing.T) {
	t.Parallel()

	_, err := source.NewReader(source.Config{})
	require.ErrorContains(t, err, "logger is required")
}

func TestSource_Songs(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	root := t.TempDir()

	a := st.SampleSong()
	b := st.Song{SongID: "SOUPIRU12A6D4FA1E1", Title: "Der Kleine Dompfaff", ArtistID: "ARJIE2Y1187B994AB7", ArtistName: "Line Renaud",
		ArtistLatitude: st.Float(48.85), ArtistLongitude: st.Float(2.35), Year: 0, Duration: 152.92036, NumSongs: 1}
	st.WriteSongs(t, root, a, b)

	s := newSession(t, nil)
	r := newReader(t, source.Config{})

	f, err := r.Songs(ctx, s, source.SongsGlob("file://"+root, ""))
	require.NoError(t, err)

	names, err := f.ColumnNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"song_id", "title", "artist_id", "artist_name", "artist_location", "artist_latitude", "artist_longitude", "year", "duration", "num_songs"}, names)

	rows, err := f.OrderBy("song_id").Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "S1", rows[0]["song_id"])
	require.Nil(t, rows[0]["artist_latitude"])
	require.Equal(t, int32(2000), rows[0]["year"])
	require.Equal(t, "SOUPIRU12A6D4FA1E1", rows[1]["song_id"])
	require.Equal(t, 48.85, rows[1]["artist_latitude"])
}

func TestSource_Events(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	root := t.TempDir()

	home := st.Play("2", st.PlayTS+1000, "")
	home.Page = "Home"
	st.WriteEvents(t, root, "2018/11", "2018-11-02-events.json", st.Play("1", st.PlayTS, "Test Song"), home)
	st.WriteEvents(t, root, "2018/11", "2018-11-03-events.json", st.Play("3", st.PlayTS+2000, "Other"))
	st.WriteEvents(t, root, "2018/12", "2018-12-01-events.json", st.Play("4", st.PlayTS+3000, "Later"))

	s := newSession(t, nil)
	r := newReader(t, source.Config{})

	f, err := r.Events(ctx, s, source.EventsGlob("file://"+root, "2018/11"))
	require.NoError(t, err)

	rows, err := f.OrderBy("ts").Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "1", rows[0]["userId"])
	require.Equal(t, st.PlayTS, rows[0]["ts"])
	require.Equal(t, int64(10), rows[0]["sessionId"])
	require.Equal(t, filepath.Join(root, "log_data/2018/11/2018-11-02-events.json"), rows[0]["filename"])
	require.Nil(t, rows[1]["song"])
	require.Equal(t, "Home", rows[1]["page"])
}

func TestSource_NoMatch(t *testing.T) {
	t.Parallel()

	s := newSession(t, nil)
	r := newReader(t, source.Config{})

	_, err := r.Events(t.Context(), s, source.EventsGlob("file://"+t.TempDir(), "2018/11"))
	require.ErrorIs(t, err, source.ErrNoMatch)

	_, err = r.Songs(t.Context(), s, "s3://bucket/song_data/*.json")
	require.ErrorContains(t, err, "s3 client is required")

	_, err = r.Songs(t.Context(), s, "gs://bucket/song_data/*.json")
	require.ErrorContains(t, err, "unsupported location")
}

func TestSource_MalformedRecords(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	root := t.TempDir()

	good := st.EventsJSON(t, st.Play("1", st.PlayTS, "Test Song"), st.Play("2", st.PlayTS+1, "Test Song"))
	st.WriteFile(t, filepath.Join(root, st.EventsKey("2018/11", "events.json")), good+"{not json\n")

	s := newSession(t, nil)
	glob := source.EventsGlob("file://"+root, "2018/11")

	strict := newReader(t, source.Config{})
	f, err := strict.Events(ctx, s, glob)
	require.NoError(t, err)
	_, err = f.Count(ctx)
	require.Error(t, err)

	lenient := newReader(t, source.Config{IgnoreErrors: true})
	f, err = lenient.Events(ctx, s, glob)
	require.NoError(t, err)
	n, err := f.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestSource_MatchS3(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := t.Context()
	mc := ducktesting.NewDefaultMinIO(t)

	song := st.SampleSong()
	mc.Put(t, st.SongKey(song.SongID), st.SongJSON(t, song))
	mc.Put(t, "song_data/A/B/C/TRABC.json", st.SongJSON(t, st.Song{SongID: "TRABC", Title: "Other", ArtistID: "A2", Year: 1999, Duration: 1}))
	mc.Put(t, "song_data/A/B/C/notes.txt", "ignored")
	mc.Put(t, st.EventsKey("2018/11", "2018-11-02-events.json"), st.EventsJSON(t, st.Play("1", st.PlayTS, "Test Song")))

	client, err := duck.NewS3Client(ctx, mc.S3Config)
	require.NoError(t, err)
	r := newReader(t, source.Config{S3: client})

	matches, err := r.Match(ctx, mc.URI(source.DefaultSongPattern))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{mc.URI("song_data/X/X/X/S1.json"), mc.URI("song_data/A/B/C/TRABC.json")}, matches)

	s := newSession(t, mc.S3Config)
	f, err := r.Songs(ctx, s, source.SongsGlob(mc.URI(""), ""))
	require.NoError(t, err)
	n, err := f.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	events, err := r.Events(ctx, s, source.EventsGlob(mc.URI(""), ""))
	require.NoError(t, err)
	n, err = events.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
