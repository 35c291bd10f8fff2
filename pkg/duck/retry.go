package duck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries         = 8
	initialRetryDelay  = 50 * time.Millisecond
	maxRetryDelay      = 5 * time.Second
	retryBackoffFactor = 2.0
)

// isTransactionConflictError checks if an error is a transaction conflict error that should be retried
func isTransactionConflictError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Failed to commit DuckLake transaction") ||
		strings.Contains(errStr, "but another transaction has compacted it")
}

func newConflictBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryDelay
	b.MaxInterval = maxRetryDelay
	b.Multiplier = retryBackoffFactor
	return b
}

// RetryOnConflict runs fn, retrying with exponential backoff while it fails
// with a DuckDB/DuckLake transaction conflict. Other errors are returned
// immediately.
func RetryOnConflict(ctx context.Context, log *slog.Logger, operation string, fn func() error) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if !isTransactionConflictError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newConflictBackOff()),
		backoff.WithMaxTries(maxRetries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			log.Warn("transaction conflict detected, retrying", "operation", operation, "attempt", attempts, "max_attempts", maxRetries, "delay", delay, "error", err)
		}),
	)
	if err == nil {
		if attempts > 1 {
			log.Info("operation succeeded after retries", "operation", operation, "attempts", attempts)
		}
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("context cancelled during retry of %s: %w", operation, err)
	}
	if isTransactionConflictError(err) {
		return fmt.Errorf("operation failed after %d retries: %w", attempts, err)
	}
	return err
}
