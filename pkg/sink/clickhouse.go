package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	chgo "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/sparkify/pkg/clickhouse"
	"github.com/malbeclabs/sparkify/pkg/frame"
)

const defaultClickHouseBatchSize = 100_000

type ClickHouseConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Client    clickhouse.Client
	BatchSize int
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}

	// Optional with default
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultClickHouseBatchSize
	}
	return nil
}

// ClickHouse loads each table into a MergeTree table. Rows are streamed into
// a staging table that is then swapped with the live one, so queries see
// either the previous or the new contents.
type ClickHouse struct {
	log *slog.Logger
	cfg ClickHouseConfig
}

func NewClickHouse(cfg ClickHouseConfig) (*ClickHouse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid clickhouse sink config: %w", err)
	}
	return &ClickHouse{log: cfg.Logger, cfg: cfg}, nil
}

func (c *ClickHouse) Name() string {
	return "clickhouse"
}

func (c *ClickHouse) Write(ctx context.Context, f *frame.Frame, table string, opts WriteOptions) (Result, error) {
	if err := validateTableName(table); err != nil {
		return Result{}, err
	}
	if err := f.Err(); err != nil {
		return Result{}, err
	}
	start := c.cfg.Clock.Now()
	db := c.cfg.Client.Database()
	qualified := db + "." + table

	conn, err := c.cfg.Client.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	exists, err := clickhouse.TableExists(ctx, conn, db, table)
	if err != nil {
		return Result{}, err
	}
	if exists && opts.Mode == ErrorIfExists {
		return Result{}, fmt.Errorf("%w: %s", ErrTargetExists, qualified)
	}

	cols, err := f.Schema(ctx)
	if err != nil {
		return Result{}, err
	}
	staging := qualified + "_staging"
	ddl, err := createTableDDL(staging, cols, opts.PartitionBy)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build table %s: %w", table, err)
	}

	c.log.Info("writing table", "table", table, "location", qualified, "partition_by", opts.PartitionBy)

	if err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
		return Result{}, fmt.Errorf("failed to drop stale staging table: %w", err)
	}
	if err := conn.Exec(ctx, ddl); err != nil {
		return Result{}, fmt.Errorf("failed to create staging table: %w", err)
	}

	rows, err := c.load(ctx, conn, f, staging, len(cols))
	if err != nil {
		_ = conn.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+staging)
		return Result{}, fmt.Errorf("failed to load table %s: %w", table, err)
	}

	if exists {
		if err := conn.Exec(ctx, fmt.Sprintf("EXCHANGE TABLES %s AND %s", staging, qualified)); err != nil {
			return Result{}, fmt.Errorf("failed to swap in table %s: %w", table, err)
		}
		if err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
			return Result{}, fmt.Errorf("failed to drop previous table %s: %w", table, err)
		}
	} else if err := conn.Exec(ctx, fmt.Sprintf("RENAME TABLE %s TO %s", staging, qualified)); err != nil {
		return Result{}, fmt.Errorf("failed to publish table %s: %w", table, err)
	}

	return Result{
		Table:       table,
		Location:    qualified,
		Rows:        rows,
		PartitionBy: opts.PartitionBy,
		Duration:    c.cfg.Clock.Since(start),
	}, nil
}

// load streams the frame's rows into table, sending a batch every BatchSize rows.
func (c *ClickHouse) load(ctx context.Context, conn clickhouse.Connection, f *frame.Frame, table string, ncols int) (int64, error) {
	rs, err := f.Query(ctx)
	if err != nil {
		return 0, err
	}
	defer rs.Close()

	// Partitioned dimensions routinely span more than the default 100
	// partitions per insert block.
	ctx = chgo.Context(ctx, chgo.WithSettings(chgo.Settings{
		"max_partitions_per_insert_block": 0,
	}))
	insert := "INSERT INTO " + table
	batch, err := conn.PrepareBatch(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer func() {
		if batch != nil && !batch.IsSent() {
			_ = batch.Abort()
		}
	}()

	var total int64
	pending := 0
	values := make([]any, ncols)
	ptrs := make([]any, ncols)
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rs.Next() {
		if err := rs.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := batch.Append(values...); err != nil {
			return 0, fmt.Errorf("failed to append row: %w", err)
		}
		total++
		pending++
		if pending >= c.cfg.BatchSize {
			if err := batch.Send(); err != nil {
				return 0, fmt.Errorf("failed to send batch: %w", err)
			}
			c.log.Debug("sent batch", "table", table, "rows", pending)
			if batch, err = conn.PrepareBatch(ctx, insert); err != nil {
				return 0, fmt.Errorf("failed to prepare batch: %w", err)
			}
			pending = 0
		}
	}
	if err := rs.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate rows: %w", err)
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}
	return total, nil
}

func createTableDDL(table string, cols []frame.Column, partitionBy []string) (string, error) {
	defs := make([]string, len(cols))
	for i, col := range cols {
		typ, err := clickHouseType(col.Type)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", col.Name, err)
		}
		defs[i] = fmt.Sprintf("`%s` Nullable(%s)", col.Name, typ)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s) ENGINE = MergeTree", table, strings.Join(defs, ", "))
	if len(partitionBy) > 0 {
		ddl += " PARTITION BY (" + strings.Join(partitionBy, ", ") + ")"
	}
	ddl += " ORDER BY tuple() SETTINGS allow_nullable_key = 1"
	return ddl, nil
}

// clickHouseType maps an engine column type to its ClickHouse equivalent.
func clickHouseType(engineType string) (string, error) {
	switch strings.ToUpper(engineType) {
	case "VARCHAR":
		return "String", nil
	case "BOOLEAN":
		return "Bool", nil
	case "TINYINT":
		return "Int8", nil
	case "SMALLINT":
		return "Int16", nil
	case "INTEGER":
		return "Int32", nil
	case "BIGINT":
		return "Int64", nil
	case "UTINYINT":
		return "UInt8", nil
	case "USMALLINT":
		return "UInt16", nil
	case "UINTEGER":
		return "UInt32", nil
	case "UBIGINT":
		return "UInt64", nil
	case "FLOAT":
		return "Float32", nil
	case "DOUBLE":
		return "Float64", nil
	case "DATE":
		return "Date32", nil
	case "TIMESTAMP":
		return "DateTime64(6, 'UTC')", nil
	case "TIMESTAMP WITH TIME ZONE":
		return "DateTime64(6, 'UTC')", nil
	default:
		return "", fmt.Errorf("unsupported column type %s", engineType)
	}
}
