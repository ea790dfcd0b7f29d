package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/docchunk/internal/doctree"
	"github.com/dgallion1/docchunk/internal/sink"
)

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *sink.RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

// backoff is swapped out by tests.
var backoff = Backoff

// storeWithRetry hands records to store, retrying transient failures.
func storeWithRetry(ctx context.Context, store Store, records []doctree.ChunkRecord, log *slog.Logger) (int, error) {
	var (
		n       int
		lastErr error
	)
	for attempt := range MaxRetries {
		n, lastErr = store.Store(ctx, records)
		if lastErr == nil || !IsRetryable(lastErr) {
			break
		}
		log.Warn("retryable store error", "attempt", attempt, "error", lastErr)
		if attempt == MaxRetries-1 {
			break
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return n, lastErr
}
