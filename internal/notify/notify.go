// Package notify tells the original requester where the finished artifact
// lives. Delivery to the end user (websocket fanout, polling) is someone
// else's problem; this side just publishes the completion event.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Notifier announces a finished job.
type Notifier interface {
	Notify(ctx context.Context, jobID, locator string) error
}

// RedisNotifier publishes the artifact locator on a per-job channel.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, logger: logger}
}

// Channel returns the pub/sub channel carrying a job's completion event.
func Channel(jobID string) string {
	return "notify:" + jobID
}

func (n *RedisNotifier) Notify(ctx context.Context, jobID, locator string) error {
	if err := n.rdb.Publish(ctx, Channel(jobID), locator).Err(); err != nil {
		return fmt.Errorf("notify %s: %w", jobID, err)
	}
	n.logger.Info("requester notified", "job_id", jobID, "artifact", locator)
	return nil
}
