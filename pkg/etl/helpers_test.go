package etl

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/malbeclabs/sparkify/pkg/frame"
	"github.com/malbeclabs/sparkify/pkg/sink"
	"github.com/malbeclabs/sparkify/pkg/source"
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

type harness struct {
	input   string
	output  string
	session *frame.Session
	sink    *sink.Parquet
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		input:   filepath.Join(dir, "input"),
		output:  filepath.Join(dir, "output"),
		session: newTestSession(t),
	}
	p, err := sink.NewParquet(sink.ParquetConfig{Logger: testLogger(), Clock: clockwork.NewFakeClock(), Root: h.output})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	h.sink = p
	return h
}

// pipeline builds a pipeline over the harness; mutate adjusts the config
// before validation.
func (h *harness) pipeline(t *testing.T, mutate func(*Config)) *Pipeline {
	t.Helper()
	reader, err := source.NewReader(source.Config{Logger: testLogger()})
	require.NoError(t, err)

	cfg := Config{
		Logger:        testLogger(),
		Clock:         clockwork.NewFakeClock(),
		Session:       h.session,
		Source:        reader,
		Sink:          h.sink,
		InputURI:      "file://" + h.input,
		WriteUsers:    true,
		PartitionTime: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	return p
}

// table reads an output table back, ordered by orderBy.
func (h *harness) table(t *testing.T, name string, orderBy ...string) []frame.Row {
	t.Helper()
	f, err := h.sink.Read(t.Context(), h.session, name)
	require.NoError(t, err)
	if len(orderBy) > 0 {
		f = f.OrderBy(orderBy...)
	}
	rows, err := f.Collect(t.Context())
	require.NoError(t, err)
	return rows
}
