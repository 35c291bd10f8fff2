package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/malbeclabs/sparkify/pkg/frame"
)

type LakeConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Session *frame.Session
	Lake    duck.LakeConfig
}

func (cfg *LakeConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Session == nil {
		return errors.New("session is required")
	}
	if cfg.Lake.Name == "" {
		cfg.Lake.Name = "sparkify"
	}

	// Optional with default
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Lake writes tables into a DuckLake catalog attached to the session, so
// every table write is a catalog transaction.
type Lake struct {
	log  *slog.Logger
	cfg  LakeConfig
	lake *duck.Lake
}

func NewLake(ctx context.Context, cfg LakeConfig) (*Lake, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lake sink config: %w", err)
	}
	lake, err := duck.AttachLake(ctx, cfg.Logger, cfg.Session.Conn(), cfg.Lake)
	if err != nil {
		return nil, err
	}
	return &Lake{log: cfg.Logger, cfg: cfg, lake: lake}, nil
}

func (l *Lake) Name() string {
	return "ducklake"
}

func (l *Lake) Write(ctx context.Context, f *frame.Frame, table string, opts WriteOptions) (Result, error) {
	if err := validateTableName(table); err != nil {
		return Result{}, err
	}
	if err := f.Err(); err != nil {
		return Result{}, err
	}
	if f.Session() != l.cfg.Session {
		return Result{}, frame.ErrSessionMismatch
	}
	start := l.cfg.Clock.Now()
	qualified := l.lake.Table(table)

	exists, err := l.exists(ctx, table)
	if err != nil {
		return Result{}, err
	}
	if exists && opts.Mode == ErrorIfExists {
		return Result{}, fmt.Errorf("%w: %s", ErrTargetExists, qualified)
	}

	l.log.Info("writing table", "table", table, "location", qualified, "partition_by", opts.PartitionBy)

	var rows int64
	err = duck.RetryOnConflict(ctx, l.log, "replace "+qualified, func() error {
		var err error
		rows, err = l.replace(ctx, f, qualified, opts.PartitionBy)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to write table %s: %w", table, err)
	}

	return Result{
		Table:       table,
		Location:    qualified,
		Rows:        rows,
		PartitionBy: opts.PartitionBy,
		Duration:    l.cfg.Clock.Since(start),
	}, nil
}

// replace recreates the table and loads it in one transaction.
func (l *Lake) replace(ctx context.Context, f *frame.Frame, qualified string, partitionBy []string) (int64, error) {
	tx, err := l.cfg.Session.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			l.log.Error("failed to rollback transaction", "table", qualified, "error", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM (%s) AS src LIMIT 0", qualified, f.SQL())); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}
	if len(partitionBy) > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s SET PARTITIONED BY (%s)", qualified, columnList(partitionBy))); err != nil {
			return 0, fmt.Errorf("failed to set partitioning: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s SELECT * FROM (%s) AS src", qualified, f.SQL()))
	if err != nil {
		return 0, fmt.Errorf("failed to insert rows: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted row count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rows, nil
}

func (l *Lake) exists(ctx context.Context, table string) (bool, error) {
	var n int
	err := l.cfg.Session.Conn().QueryRowContext(ctx,
		"SELECT count(*) FROM duckdb_tables() WHERE database_name = ? AND schema_name = ? AND table_name = ?",
		l.lake.Catalog(), l.lake.Schema(), table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check for table %s: %w", table, err)
	}
	return n > 0, nil
}

func (l *Lake) Read(ctx context.Context, s *frame.Session, table string) (*frame.Frame, error) {
	if err := validateTableName(table); err != nil {
		return nil, err
	}
	if s != l.cfg.Session {
		return nil, frame.ErrSessionMismatch
	}
	exists, err := l.exists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, l.lake.Table(table))
	}
	return s.Table(l.lake.Table(table)), nil
}
