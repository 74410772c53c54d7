package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	readyKey         = "queue:tasks"
	delayedKey       = "queue:delayed"
	deadKey          = "queue:dead"
	workersKey       = "queue:workers"
	processingPrefix = "queue:processing:"
	heartbeatPrefix  = "queue:heartbeat:"
)

// Queue enqueues tasks onto Redis. It is safe for concurrent use.
type Queue struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New creates a queue over an established Redis client.
func New(rdb *redis.Client, log zerolog.Logger) *Queue {
	return &Queue{rdb: rdb, log: log.With().Str("component", "queue").Logger()}
}

// Enqueue makes the task available to workers. A task with a future
// NotBefore waits on the delayed set until due; everything else goes
// straight onto the ready list. A missing task ID is assigned here so the
// caller can hand it out before the task runs.
func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.Type, err)
	}
	if task.NotBefore.After(time.Now()) {
		err = q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: unixScore(task.NotBefore), Member: string(raw)}).Err()
		if err != nil {
			return fmt.Errorf("failed to enqueue delayed task %s: %w", task.Type, err)
		}
		q.log.Debug().Str("task_id", task.ID).Str("task_type", task.Type).Time("not_before", task.NotBefore).Msg("task delayed")
		return nil
	}
	if err := q.rdb.LPush(ctx, readyKey, raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.Type, err)
	}
	q.log.Debug().Str("task_id", task.ID).Str("task_type", task.Type).Msg("task enqueued")
	return nil
}

// Depth reports the number of tasks per state: ready, delayed and dead.
func (q *Queue) Depth(ctx context.Context) (ready, delayed, dead int64, err error) {
	pipe := q.rdb.Pipeline()
	readyCmd := pipe.LLen(ctx, readyKey)
	delayedCmd := pipe.ZCard(ctx, delayedKey)
	deadCmd := pipe.LLen(ctx, deadKey)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return readyCmd.Val(), delayedCmd.Val(), deadCmd.Val(), nil
}

func unixScore(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
