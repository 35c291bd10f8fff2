package frame

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionClosed   = errors.New("session is closed")
	ErrSessionMismatch = errors.New("frames belong to different sessions")
)

type JoinKind string

const LeftJoin JoinKind = "LEFT"

// Frame is a lazy relation: a SELECT statement bound to a session.
// Transformations only compose SQL; nothing runs until Count, Cache,
// Query, Collect or Schema is called, or a sink writes the frame.
//
// Transformations reference the input relation as "src"; joins name the
// left side "l" and the right side "r".
type Frame struct {
	s   *Session
	sql string
	err error
}

func (f *Frame) Session() *Session {
	return f.s
}

// SQL returns the statement the frame evaluates to.
func (f *Frame) SQL() string {
	return f.sql
}

// Err returns the first error recorded while composing the frame.
func (f *Frame) Err() error {
	return f.err
}

func (f *Frame) derive(format string, args ...any) *Frame {
	if f.err != nil {
		return f
	}
	return &Frame{s: f.s, sql: fmt.Sprintf(format, args...)}
}

func (f *Frame) Select(exprs ...string) *Frame {
	if len(exprs) == 0 {
		return &Frame{s: f.s, sql: f.sql, err: errors.New("select requires at least one expression")}
	}
	return f.derive("SELECT %s FROM (%s) AS src", strings.Join(exprs, ", "), f.sql)
}

func (f *Frame) Where(cond string) *Frame {
	return f.derive("SELECT * FROM (%s) AS src WHERE %s", f.sql, cond)
}

// WithColumn appends a computed column. name must not already exist.
func (f *Frame) WithColumn(name, expr string) *Frame {
	return f.derive("SELECT *, %s AS %s FROM (%s) AS src", expr, name, f.sql)
}

// Distinct removes duplicate rows, comparing every column.
func (f *Frame) Distinct() *Frame {
	return f.derive("SELECT DISTINCT * FROM (%s) AS src", f.sql)
}

// Qualify filters rows on a window expression.
func (f *Frame) Qualify(cond string) *Frame {
	return f.derive("SELECT * FROM (%s) AS src QUALIFY %s", f.sql, cond)
}

func (f *Frame) OrderBy(exprs ...string) *Frame {
	return f.derive("SELECT * FROM (%s) AS src ORDER BY %s", f.sql, strings.Join(exprs, ", "))
}

// Join combines f (aliased "l") with other (aliased "r") on cond and projects
// cols, which should qualify ambiguous names with l. or r.
func (f *Frame) Join(other *Frame, kind JoinKind, cond string, cols ...string) *Frame {
	switch {
	case f.err != nil:
		return f
	case other.err != nil:
		return &Frame{s: f.s, sql: f.sql, err: other.err}
	case f.s != other.s:
		return &Frame{s: f.s, sql: f.sql, err: ErrSessionMismatch}
	}
	proj := "*"
	if len(cols) > 0 {
		proj = strings.Join(cols, ", ")
	}
	return f.derive("SELECT %s FROM (%s) AS l %s JOIN (%s) AS r ON %s", proj, f.sql, kind, other.sql, cond)
}

func (f *Frame) ready() error {
	if f.err != nil {
		return f.err
	}
	return f.s.checkOpen()
}

// Count executes the frame and returns its row count.
func (f *Frame) Count(ctx context.Context) (int64, error) {
	if err := f.ready(); err != nil {
		return 0, err
	}
	var n int64
	if err := f.s.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) AS src", f.sql)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// Cache materializes the frame into a session temp table and returns a frame
// reading from it, so later consumers don't re-evaluate the input.
func (f *Frame) Cache(ctx context.Context) (*Frame, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	name := f.s.nextName("cache")
	if _, err := f.s.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s AS %s", name, f.sql)); err != nil {
		return nil, fmt.Errorf("failed to cache frame: %w", err)
	}
	f.s.track(tempObject{name: name, kind: "TABLE"})
	return f.s.Table(name), nil
}

// Query executes the frame. The caller must close the returned rows.
func (f *Frame) Query(ctx context.Context) (*sql.Rows, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	rows, err := f.s.conn.QueryContext(ctx, f.sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query frame: %w", err)
	}
	return rows, nil
}

// Row is one collected record keyed by column name.
type Row map[string]any

// Collect executes the frame and loads every row into memory.
func (f *Frame) Collect(ctx context.Context) ([]Row, error) {
	rows, err := f.Query(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Schema describes the frame's output columns without reading any data.
func (f *Frame) Schema(ctx context.Context) ([]Column, error) {
	if err := f.ready(); err != nil {
		return nil, err
	}
	rows, err := f.s.conn.QueryContext(ctx, "DESCRIBE "+f.sql)
	if err != nil {
		return nil, fmt.Errorf("failed to describe frame: %w", err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var name, typ string
		var null, key, dflt, extra sql.NullString
		if err := rows.Scan(&name, &typ, &null, &key, &dflt, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan column description: %w", err)
		}
		cols = append(cols, Column{Name: name, Type: typ, Nullable: null.String != "NO"})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column descriptions: %w", err)
	}
	return cols, nil
}

// ColumnNames is a convenience over Schema.
func (f *Frame) ColumnNames(ctx context.Context) ([]string, error) {
	cols, err := f.Schema(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}
