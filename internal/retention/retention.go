// Package retention prunes idle conversations in the background.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/coachmind/mental-coach/internal/store"
)

const sweepInterval = time.Hour

// StartWorker runs a background goroutine that periodically deletes
// conversations that have been idle longer than maxAge. A maxAge of zero
// or less disables retention entirely.
func StartWorker(ctx context.Context, repo store.Repository, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", sweepInterval, "max_age", maxAge)

		for {
			select {
			case <-ctx.Done():
				slog.Info("Retention worker stopped")
				return
			case <-ticker.C:
				sweep(ctx, repo, maxAge)
			}
		}
	}()
}

func sweep(ctx context.Context, repo store.Repository, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	deleted, err := repo.PurgeIdleConversations(ctx, cutoff)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention sweep complete", "conversations_deleted", deleted)
	}
}
