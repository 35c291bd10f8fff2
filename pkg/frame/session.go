package frame

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/malbeclabs/sparkify/pkg/duck"
)

type SessionConfig struct {
	Logger *slog.Logger
	DB     duck.DB

	// S3 is required when any frame reads or writes s3:// locations.
	S3 *duck.S3Config

	// Threads and MemoryLimit tune the engine; zero values keep DuckDB defaults.
	Threads     int
	MemoryLimit string
}

func (cfg *SessionConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	if cfg.Threads < 0 {
		return errors.New("threads must be >= 0")
	}
	return nil
}

type tempObject struct {
	name string
	kind string // TABLE or VIEW
}

// Session is the execution context every frame is bound to. It owns one
// engine connection, so temp tables created by Cache stay visible to every
// frame of the session and disappear when it is closed.
type Session struct {
	log  *slog.Logger
	conn duck.Connection

	mu     sync.Mutex
	seq    int
	temps  []tempObject
	closed bool
}

func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	conn, err := cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session connection: %w", err)
	}

	var settings []string
	if cfg.Threads > 0 {
		settings = append(settings, fmt.Sprintf("SET threads = %d", cfg.Threads))
	}
	if cfg.MemoryLimit != "" {
		settings = append(settings, "SET memory_limit = "+duck.QuoteString(cfg.MemoryLimit))
	}
	for _, stmt := range settings {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}

	if cfg.S3 != nil {
		if err := duck.CreateS3Secret(ctx, cfg.Logger, conn, cfg.S3); err != nil {
			conn.Close()
			return nil, err
		}
	}

	cfg.Logger.Debug("session started", "catalog", cfg.DB.Catalog(), "threads", cfg.Threads, "memory_limit", cfg.MemoryLimit)

	return &Session{
		log:  cfg.Logger,
		conn: conn,
	}, nil
}

// Conn returns the connection backing the session. Statements run on it see
// the session's temp tables.
func (s *Session) Conn() duck.Connection {
	return s.conn
}

func (s *Session) Logger() *slog.Logger {
	return s.log
}

// SQL returns a lazy frame over an arbitrary SELECT statement.
func (s *Session) SQL(query string) *Frame {
	return &Frame{s: s, sql: strings.TrimSpace(query)}
}

// Table returns a lazy frame over every row of a table or view.
func (s *Session) Table(name string) *Frame {
	return s.SQL("SELECT * FROM " + name)
}

// Exec runs a statement on the session connection.
func (s *Session) Exec(ctx context.Context, stmt string) (sql.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.log.Debug("executing statement", "sql", stmt)
	return s.conn.ExecContext(ctx, stmt)
}

// MonotonicID returns a SQL expression that yields a BIGINT unique across the
// relation it is evaluated over: rows are grouped by partitionBy, groups are
// numbered in key order and rows are numbered within each group by orderBy.
// The group index occupies the bits above PartitionShift, so IDs increase
// monotonically within a group and no coordination is needed between groups.
func (s *Session) MonotonicID(partitionBy string, orderBy ...string) string {
	order := partitionBy
	if len(orderBy) > 0 {
		order = strings.Join(orderBy, ", ")
	}
	return fmt.Sprintf(
		"(((dense_rank() OVER (ORDER BY %[1]s) - 1)::BIGINT << %[2]d) + (row_number() OVER (PARTITION BY %[1]s ORDER BY %[3]s) - 1)::BIGINT)",
		partitionBy, PartitionShift, order)
}

func (s *Session) nextName(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("__%s_%d", prefix, s.seq)
}

func (s *Session) track(obj tempObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temps = append(s.temps, obj)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// Close drops every temp object the session created and releases its
// connection. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	temps := s.temps
	s.temps = nil
	s.mu.Unlock()

	var errs []error
	for i := len(temps) - 1; i >= 0; i-- {
		obj := temps[i]
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("DROP %s IF EXISTS %s", obj.kind, obj.name)); err != nil {
			errs = append(errs, fmt.Errorf("failed to drop temp %s %s: %w", strings.ToLower(obj.kind), obj.name, err))
		}
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close session connection: %w", err))
	}
	s.log.Debug("session closed", "dropped", len(temps))
	return errors.Join(errs...)
}
