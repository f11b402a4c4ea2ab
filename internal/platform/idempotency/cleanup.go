package idempotency

import (
	"context"
	"time"
)

// RunCleanup sweeps expired entries every interval until ctx ends.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batchSize int, logger Logger) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := store.Sweep(ctx, batchSize); err != nil && logger != nil {
				logger.Warnf("idempotency: sweep failed: %v", err)
			}
		}
	}
}
