package queue

import "context"

// Handler executes one task. A nil return acknowledges the task; a
// RetryError re-queues it after a delay; an ExpectedError acknowledges and
// surfaces it; any other error counts as a failed attempt and is retried
// with exponential backoff.
type Handler func(ctx context.Context, task *Task) error

// Registry maps task type names to handlers. It is populated once at
// process start and read-only afterwards, so lookups take no lock.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a task type to its handler, replacing any previous
// binding.
func (r *Registry) Register(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// Resolve looks up the handler for a task type.
func (r *Registry) Resolve(taskType string) (Handler, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}
