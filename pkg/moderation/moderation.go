// Package moderation implements the repository-scoped moderation ledger:
// identity resolution, the repository registry, trust grants and bans.
// Every component is built over an injected datastore.DataProviderFactory.
package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/contribution-patrol/patrol/pkg/datastore"
)

// maxAttempts bounds retries of storage operations that hit a lock conflict.
const maxAttempts = 3

const retryBackoff = 25 * time.Millisecond

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// maxAttempts is reached.
func withRetry[T any](ctx context.Context, logger *slog.Logger, op string, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = fn()
		if err == nil || !datastore.IsRetryable(err) {
			return result, err
		}
		logger.Warn("storage conflict, retrying", "op", op, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return result, err
}
