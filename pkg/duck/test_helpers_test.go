package duck

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testDBWithConn creates an in-memory database and connection, closed on test cleanup.
func testDBWithConn(t *testing.T) (DB, Connection) {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, "", testLogger())
	require.NoError(t, err)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		db.Close()
	})
	return db, conn
}
