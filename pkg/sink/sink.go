package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/malbeclabs/sparkify/pkg/duck"
	"github.com/malbeclabs/sparkify/pkg/frame"
)

var (
	// ErrTargetExists is returned by ErrorIfExists writes when the table is
	// already present.
	ErrTargetExists = errors.New("target already exists")

	// ErrNotFound is returned when reading back a table that was never written.
	ErrNotFound = errors.New("table not found")
)

// Mode controls what a write does when the target table already exists.
type Mode int

const (
	Overwrite Mode = iota
	ErrorIfExists
)

func (m Mode) String() string {
	switch m {
	case Overwrite:
		return "overwrite"
	case ErrorIfExists:
		return "error"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "overwrite":
		return Overwrite, nil
	case "error", "errorifexists":
		return ErrorIfExists, nil
	default:
		return 0, fmt.Errorf("unknown write mode %q (want overwrite or error)", s)
	}
}

type WriteOptions struct {
	Mode        Mode
	PartitionBy []string
}

// Result describes a completed write.
type Result struct {
	Table       string
	Location    string
	Rows        int64
	PartitionBy []string
	Duration    time.Duration
}

// Sink persists frames as named tables.
type Sink interface {
	Name() string
	Write(ctx context.Context, f *frame.Frame, table string, opts WriteOptions) (Result, error)
}

// Reader is implemented by sinks whose output can be read back as a frame.
type Reader interface {
	Read(ctx context.Context, s *frame.Session, table string) (*frame.Frame, error)
}

func validateTableName(table string) error {
	if table == "" {
		return errors.New("table name is required")
	}
	for _, r := range table {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("invalid table name %q", table)
		}
	}
	return nil
}

// columnList renders cols as a comma-separated list of quoted identifiers.
func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = duck.QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
