package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/malbeclabs/sparkify/pkg/frame"
)

const (
	defaultCompression      = "snappy"
	defaultPurgeConcurrency = 4
	dataFilePattern         = "data_{i}"
)

type ParquetConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Root is the output root; each table is written to <Root>/<table>/.
	Root string

	// S3 manages table prefixes when Root is an s3:// URI.
	S3               S3API
	PurgeConcurrency int

	Compression string
}

func (cfg *ParquetConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	root, err := duck.NormalizeStorageURI(cfg.Root)
	if err != nil {
		return err
	}
	if err := duck.ValidateStorageURI(root); err != nil {
		return err
	}
	cfg.Root = root
	if duck.IsS3URI(cfg.Root) && cfg.S3 == nil {
		return errors.New("s3 client is required for s3:// output")
	}

	// Optional with default
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PurgeConcurrency <= 0 {
		cfg.PurgeConcurrency = defaultPurgeConcurrency
	}
	if cfg.Compression == "" {
		cfg.Compression = defaultCompression
	}
	return nil
}

// Parquet writes each table as a directory of Parquet files, hive-partitioned
// when partition columns are given.
//
// Local tables are written to a sibling staging directory and swapped in with
// a rename, so readers never observe a half-written table. On S3 the table
// prefix is purged before the new files are written.
type Parquet struct {
	log     *slog.Logger
	cfg     ParquetConfig
	objects *objectStore
}

func NewParquet(cfg ParquetConfig) (*Parquet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parquet sink config: %w", err)
	}
	p := &Parquet{log: cfg.Logger, cfg: cfg}
	if cfg.S3 != nil {
		p.objects = newObjectStore(cfg.Logger, cfg.S3, cfg.PurgeConcurrency)
	}
	return p, nil
}

func (p *Parquet) Name() string {
	return "parquet"
}

// Location returns the URI a table is written to.
func (p *Parquet) Location(table string) string {
	return duck.JoinURI(p.cfg.Root, table)
}

func (p *Parquet) Close() {
	if p.objects != nil {
		p.objects.close()
	}
}

func (p *Parquet) Write(ctx context.Context, f *frame.Frame, table string, opts WriteOptions) (Result, error) {
	if err := validateTableName(table); err != nil {
		return Result{}, err
	}
	if err := f.Err(); err != nil {
		return Result{}, err
	}
	start := p.cfg.Clock.Now()
	location := p.Location(table)

	exists, err := p.exists(ctx, location)
	if err != nil {
		return Result{}, err
	}
	if exists && opts.Mode == ErrorIfExists {
		return Result{}, fmt.Errorf("%w: %s", ErrTargetExists, location)
	}

	p.log.Info("writing table", "table", table, "location", duck.RedactedStorageURI(location), "partition_by", opts.PartitionBy)

	var rows int64
	if path, ok := duck.LocalPath(location); ok {
		rows, err = p.writeLocal(ctx, f, path, opts.PartitionBy)
	} else {
		rows, err = p.writeS3(ctx, f, location, exists, opts.PartitionBy)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to write table %s: %w", table, err)
	}

	return Result{
		Table:       table,
		Location:    location,
		Rows:        rows,
		PartitionBy: opts.PartitionBy,
		Duration:    p.cfg.Clock.Since(start),
	}, nil
}

func (p *Parquet) writeLocal(ctx context.Context, f *frame.Frame, target string, partitionBy []string) (int64, error) {
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(target)+".staging-")
	if err != nil {
		return 0, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	rows, err := p.copy(ctx, f, staging, partitionBy)
	if err != nil {
		return 0, err
	}

	if _, err := os.Stat(target); err == nil {
		old := staging + ".old"
		if err := os.Rename(target, old); err != nil {
			return 0, fmt.Errorf("failed to move previous output aside: %w", err)
		}
		defer os.RemoveAll(old)
	}
	if err := os.Rename(staging, target); err != nil {
		return 0, fmt.Errorf("failed to publish output: %w", err)
	}
	return rows, nil
}

func (p *Parquet) writeS3(ctx context.Context, f *frame.Frame, location string, exists bool, partitionBy []string) (int64, error) {
	if exists {
		bucket, prefix, err := duck.SplitS3URI(location)
		if err != nil {
			return 0, err
		}
		n, err := p.objects.purge(ctx, bucket, prefix+"/")
		if err != nil {
			return 0, fmt.Errorf("failed to purge previous output: %w", err)
		}
		p.log.Debug("removed previous output", "location", location, "objects", n)
	}
	return p.copy(ctx, f, location, partitionBy)
}

// copy runs COPY ... TO dir and returns the number of rows written.
//
// A partitioned COPY of zero rows creates no files, so an empty partitioned
// table gets a schema-only data_0.parquet to stay readable.
func (p *Parquet) copy(ctx context.Context, f *frame.Frame, dir string, partitionBy []string) (int64, error) {
	if len(partitionBy) == 0 {
		return p.copyTo(ctx, f.Session(), f.SQL(), duck.JoinURI(dir, "data_0.parquet"))
	}

	rows, err := p.copyTo(ctx, f.Session(), f.SQL(), dir,
		"PARTITION_BY ("+columnList(partitionBy)+")",
		"FILENAME_PATTERN "+duck.QuoteString(dataFilePattern),
		"OVERWRITE_OR_IGNORE true",
	)
	if err != nil || rows > 0 {
		return rows, err
	}
	p.log.Debug("writing schema-only file for empty table", "location", duck.RedactedStorageURI(dir))
	empty := fmt.Sprintf("SELECT * FROM (%s) AS src LIMIT 0", f.SQL())
	if _, err := p.copyTo(ctx, f.Session(), empty, duck.JoinURI(dir, "data_0.parquet")); err != nil {
		return 0, fmt.Errorf("failed to write empty table: %w", err)
	}
	return 0, nil
}

func (p *Parquet) copyTo(ctx context.Context, s *frame.Session, query, target string, extra ...string) (int64, error) {
	opts := append([]string{
		"FORMAT parquet",
		"COMPRESSION " + p.cfg.Compression,
	}, extra...)
	stmt := fmt.Sprintf("COPY (%s) TO %s (%s)", query, duck.QuoteString(target), strings.Join(opts, ", "))
	res, err := s.Exec(ctx, stmt)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get written row count: %w", err)
	}
	return rows, nil
}

func (p *Parquet) exists(ctx context.Context, location string) (bool, error) {
	if path, ok := duck.LocalPath(location); ok {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	bucket, prefix, err := duck.SplitS3URI(location)
	if err != nil {
		return false, err
	}
	return p.objects.exists(ctx, bucket, prefix+"/")
}

// Read returns a frame over a table previously written by this sink.
// Partition columns come back as VARCHAR.
func (p *Parquet) Read(ctx context.Context, s *frame.Session, table string) (*frame.Frame, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	location := p.Location(table)
	exists, err := p.exists(ctx, location)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	glob := duck.JoinURI(duck.EnginePath(location), "**", "*.parquet")
	return s.SQL(fmt.Sprintf("SELECT * FROM read_parquet(%s, hive_partitioning = true, hive_types_autocast = false)", duck.QuoteString(glob))), nil
}
