// Package queue implements the Redis-backed durable task queue the workers
// consume. Tasks are JSON blobs on a ready list; delayed tasks wait in a
// sorted set scored by their ready time; each worker moves tasks it is
// executing onto its own processing list and acknowledges them only after
// the handler returns, so a crashed worker's tasks are redelivered.
package queue

import (
	"encoding/json"
	"time"
)

// Task is one unit of work. Payload is the task-type specific body; the
// envelope fields belong to the queue.
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	NotBefore  time.Time       `json:"not_before,omitempty"`
}

// NewTask wraps a payload into a task envelope. taskID may be empty, in
// which case Enqueue assigns one.
func NewTask(taskType, taskID string, payload any) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Task{ID: taskID, Type: taskType, Payload: raw}, nil
}
