package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/malbeclabs/sparkify/pkg/frame"
)

// ErrNoMatch is returned when a location matches no input files.
var ErrNoMatch = errors.New("no input files match")

type Config struct {
	Logger *slog.Logger

	// S3 lists objects for s3:// locations. Optional for local input.
	S3 s3.ListObjectsV2APIClient

	// IgnoreErrors skips malformed records instead of failing the read.
	IgnoreErrors bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Reader turns raw JSON inputs into lazy frames with a fixed schema.
type Reader struct {
	log          *slog.Logger
	s3           s3.ListObjectsV2APIClient
	ignoreErrors bool
}

func NewReader(cfg Config) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source config: %w", err)
	}
	return &Reader{
		log:          cfg.Logger,
		s3:           cfg.S3,
		ignoreErrors: cfg.IgnoreErrors,
	}, nil
}

// Songs returns the song catalog records matched by glob. Each file may hold
// one JSON object or newline-delimited objects.
func (r *Reader) Songs(ctx context.Context, s *frame.Session, glob string) (*frame.Frame, error) {
	return r.read(ctx, s, glob, SongFields, false)
}

// Events returns the newline-delimited event records matched by glob, plus a
// filename column naming the file each record came from.
func (r *Reader) Events(ctx context.Context, s *frame.Session, glob string) (*frame.Frame, error) {
	return r.read(ctx, s, glob, EventFields, true)
}

func (r *Reader) read(ctx context.Context, s *frame.Session, glob string, fields []Field, withFilename bool) (*frame.Frame, error) {
	files, err := r.Match(ctx, glob)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoMatch, glob)
	}
	r.log.Debug("matched input files", "glob", glob, "files", len(files))

	format := "auto"
	if withFilename || r.ignoreErrors {
		format = "newline_delimited"
	}
	opts := []string{
		duck.QuoteString(duck.EnginePath(glob)),
		"format = '" + format + "'",
		"columns = " + columnsStruct(fields),
	}
	if r.ignoreErrors {
		opts = append(opts, "ignore_errors = true")
	}
	cols := fieldNames(fields)
	if withFilename {
		opts = append(opts, "filename = true")
		cols = append(cols, "filename")
	}

	query := fmt.Sprintf("SELECT %s FROM read_json(%s)", strings.Join(cols, ", "), strings.Join(opts, ", "))
	return s.SQL(query), nil
}
