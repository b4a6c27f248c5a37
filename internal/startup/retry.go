package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
)

const maxBackoff = 30 * time.Second

// withRetry повторяет attempt с экспоненциальной паузой, пока не истечёт maxWait или ctx.
// name и logPrefix идут в лог (например "db", "api: ").
func withRetry(ctx context.Context, maxWait time.Duration, name, logPrefix string, attempt func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", name, maxWait, err)
		}
		logger.Errorf("%s%s connect failed, retry in %v: %v", logPrefix, name, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
