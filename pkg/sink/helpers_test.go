package sink

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/malbeclabs/sparkify/pkg/frame"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSession(t *testing.T) *frame.Session {
	t.Helper()
	ctx := context.Background()

	db, err := duck.NewDB(ctx, "", testLogger())
	require.NoError(t, err)
	s, err := frame.NewSession(ctx, frame.SessionConfig{Logger: testLogger(), DB: db})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
		db.Close()
	})
	return s
}

const songsSQL = `SELECT * FROM (VALUES
	('S1', 'Test Song', 'A1', 2000, 180.0::DOUBLE),
	('S2', 'Other',     'A1', 2001, 200.5::DOUBLE),
	('S3', 'Third',     'A2', 2000, 99.0::DOUBLE)
) AS t(song_id, title, artist_id, year, duration)`
