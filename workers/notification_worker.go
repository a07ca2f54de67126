package workers

import (
	"context"
	"log/slog"
	"time"
)

// NotificationRetrier re-attempts undelivered notifications.
type NotificationRetrier interface {
	RetryFailed(ctx context.Context, maxAttempts, limit int) (int, error)
}

const notificationBatchSize = 50

// PollNotifications retries failed SMS deliveries on every tick until ctx is cancelled.
func PollNotifications(ctx context.Context, retrier NotificationRetrier, pollInterval time.Duration, maxAttempts int) {
	slog.Info("📨 starting notification retry worker", "interval", pollInterval.String(), "max_attempts", maxAttempts)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("notification retry worker stopped")
			return
		case <-ticker.C:
			sent, err := retrier.RetryFailed(ctx, maxAttempts, notificationBatchSize)
			if err != nil {
				slog.Error("❌ notification retry batch failed", "error", err)
				continue
			}
			if sent > 0 {
				slog.Info("✅ redelivered notifications", "count", sent)
			}
		}
	}
}
