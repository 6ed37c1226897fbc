package instrument

import (
	"context"
	"log/slog"
	"time"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/store"
)

// CleanupOldEvents deletes events older than retentionDays and returns
// how many were removed.
func CleanupOldEvents(ctx context.Context, q store.Querier, d *dialect.Dialect, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	del := d.Delete().From(EventsTable).Where(dialect.M("created_at", dialect.M("<", cutoff)))
	n, err := store.ExecStatement(ctx, q, del)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "event cleanup", "deleted", n, "retention_days", retentionDays)
	}
	return n, nil
}

// RunCleanup calls CleanupOldEvents every interval until ctx is done.
func RunCleanup(ctx context.Context, q store.Querier, d *dialect.Dialect, retentionDays int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := CleanupOldEvents(ctx, q, d, retentionDays); err != nil {
				slog.ErrorContext(ctx, "event cleanup failed", "error", err)
			}
		}
	}
}
