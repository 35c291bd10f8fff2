package etl

import "errors"

var (
	// ErrSourceUnreadable means an input location matched no files or could
	// not be parsed.
	ErrSourceUnreadable = errors.New("source unreadable")

	// ErrDependencyMissing means the songs table could not be read back from
	// the sink for the log stage.
	ErrDependencyMissing = errors.New("dependency missing")
)
