// Package progress tracks the terminal status of subscription tasks so the
// HTTP API can answer polls. Statuses live in Redis under a short TTL; a
// key that expired reads the same as one that never existed.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status of one tracked task.
type Status string

const (
	StatusPending Status = "Pending"
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
)

// TTL is how long a status stays readable after its last update.
const TTL = 20 * time.Minute

// Tracker stores task statuses.
type Tracker struct {
	rdb *redis.Client
}

// NewTracker creates a tracker over an established Redis client.
func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb}
}

func progressKey(taskID string) string {
	return "progress:" + taskID
}

// Set records the status for a task and restarts its TTL.
func (t *Tracker) Set(ctx context.Context, taskID string, status Status) error {
	if err := t.rdb.Set(ctx, progressKey(taskID), string(status), TTL).Err(); err != nil {
		return fmt.Errorf("failed to set progress for task %s: %w", taskID, err)
	}
	return nil
}

// Get reads the status for a task. ok is false for unknown or expired
// tasks.
func (t *Tracker) Get(ctx context.Context, taskID string) (Status, bool, error) {
	val, err := t.rdb.Get(ctx, progressKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get progress for task %s: %w", taskID, err)
	}
	return Status(val), true, nil
}
