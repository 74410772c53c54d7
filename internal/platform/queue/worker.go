package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stima/stima/internal/platform/metrics"
)

// FailureFunc is invoked once when a task exhausts its attempts and is
// moved to the dead-letter list.
type FailureFunc func(ctx context.Context, task *Task, err error)

// Worker consumes tasks from the queue with at-least-once semantics. Each
// consumer goroutine moves a task onto the worker's processing list, runs
// the handler, and removes it only afterwards; a reaper requeues the
// processing lists of workers whose heartbeat lapsed.
type Worker struct {
	queue     *Queue
	registry  *Registry
	log       zerolog.Logger
	id        string
	onFailure FailureFunc

	// Concurrency is the number of consumer goroutines; the default suits
	// IO-bound handlers.
	Concurrency int
	// FetchTimeout bounds each blocking pop so consumers notice shutdown.
	FetchTimeout time.Duration
	// PromoteInterval controls how often due delayed tasks move to ready.
	PromoteInterval time.Duration
	// HeartbeatInterval and HeartbeatTTL drive dead-worker detection.
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	// ReapInterval controls how often dead workers are checked for.
	ReapInterval time.Duration
	// MaxAttempts dead-letters a task after this many failed attempts.
	MaxAttempts int
	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration
}

// NewWorker creates a worker over the queue. onFailure may be nil.
func NewWorker(q *Queue, reg *Registry, log zerolog.Logger, onFailure FailureFunc) *Worker {
	id := uuid.NewString()
	return &Worker{
		queue:             q,
		registry:          reg,
		log:               log.With().Str("component", "worker").Str("worker_id", id).Logger(),
		id:                id,
		onFailure:         onFailure,
		Concurrency:       100 * runtime.NumCPU(),
		FetchTimeout:      2 * time.Second,
		PromoteInterval:   time.Second,
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTTL:      30 * time.Second,
		ReapInterval:      15 * time.Second,
		MaxAttempts:       200,
		MaxBackoff:        600 * time.Second,
	}
}

// Run blocks until ctx is cancelled, consuming tasks with the configured
// concurrency alongside the promoter, heartbeat and reaper loops.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return err
	}
	defer w.deregister()
	w.log.Info().Int("concurrency", w.Concurrency).Msg("worker started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.heartbeatLoop(ctx) })
	g.Go(func() error { return w.promoteLoop(ctx) })
	g.Go(func() error { return w.reapLoop(ctx) })
	for i := 0; i < w.Concurrency; i++ {
		g.Go(func() error { return w.consumeLoop(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	w.log.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) processingKey() string {
	return processingPrefix + w.id
}

func (w *Worker) register(ctx context.Context) error {
	if err := w.queue.rdb.SAdd(ctx, workersKey, w.id).Err(); err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	w.beat(ctx)
	return nil
}

// deregister drains this worker's processing list back to ready so nothing
// in flight at shutdown is lost, then removes the worker's registration.
func (w *Worker) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, err := w.queue.rdb.LMove(ctx, w.processingKey(), readyKey, "RIGHT", "LEFT").Result()
		if err != nil {
			break
		}
	}
	w.queue.rdb.SRem(ctx, workersKey, w.id)
	w.queue.rdb.Del(ctx, heartbeatPrefix+w.id)
}

func (w *Worker) consumeLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := w.queue.rdb.BLMove(ctx, readyKey, w.processingKey(), "RIGHT", "LEFT", w.FetchTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("failed to fetch task")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		w.handle(ctx, raw)
	}
}

// handle runs one task. The raw payload is removed from the processing
// list only after the handler's outcome is settled (acks_late); requeues
// happen before the ack so a crash cannot lose the task.
func (w *Worker) handle(ctx context.Context, raw string) {
	ack := func() {
		if err := w.queue.rdb.LRem(ctx, w.processingKey(), 1, raw).Err(); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("failed to ack task")
		}
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		w.log.Error().Err(err).Msg("dead-lettering undecodable task")
		w.queue.rdb.LPush(ctx, deadKey, raw)
		ack()
		return
	}
	log := w.log.With().Str("task_id", task.ID).Str("task_type", task.Type).Int("attempts", task.Attempts).Logger()

	handler, ok := w.registry.Resolve(task.Type)
	if !ok {
		w.fail(ctx, &task, raw, fmt.Errorf("no handler registered for task type %q", task.Type))
		return
	}

	err := handler(ctx, &task)
	var retryErr *RetryError
	var expectedErr *ExpectedError
	switch {
	case err == nil:
		metrics.TasksProcessed.WithLabelValues(task.Type, "ok").Inc()
		ack()
	case errors.As(err, &retryErr):
		metrics.TasksProcessed.WithLabelValues(task.Type, "retry").Inc()
		log.Info().Dur("after", retryErr.After).Msg("task asked to be retried")
		w.requeue(ctx, &task, retryErr.After)
		ack()
	case errors.As(err, &expectedErr):
		metrics.TasksProcessed.WithLabelValues(task.Type, "expected").Inc()
		log.Warn().Str("reason", expectedErr.Reason).Msg("task ended with expected error")
		ack()
	default:
		w.fail(ctx, &task, raw, err)
	}
}

// fail counts one failed attempt: dead-letter at the cap, exponential
// backoff below it. The original raw payload is acked in both branches.
func (w *Worker) fail(ctx context.Context, task *Task, raw string, cause error) {
	task.Attempts++
	log := w.log.With().Str("task_id", task.ID).Str("task_type", task.Type).Int("attempts", task.Attempts).Logger()

	if task.Attempts >= w.MaxAttempts {
		metrics.TasksProcessed.WithLabelValues(task.Type, "dead").Inc()
		log.Error().Err(cause).Msg("task exhausted attempts, dead-lettering")
		if encoded, err := json.Marshal(task); err == nil {
			w.queue.rdb.LPush(ctx, deadKey, encoded)
		}
		if w.onFailure != nil {
			w.onFailure(ctx, task, cause)
		}
	} else {
		metrics.TasksProcessed.WithLabelValues(task.Type, "failed").Inc()
		delay := w.backoff(task.Attempts)
		log.Error().Err(cause).Dur("backoff", delay).Msg("task failed, will retry")
		w.requeue(ctx, task, delay)
	}
	if err := w.queue.rdb.LRem(ctx, w.processingKey(), 1, raw).Err(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("failed to ack task")
	}
}

func (w *Worker) requeue(ctx context.Context, task *Task, delay time.Duration) {
	task.NotBefore = time.Now().Add(delay)
	encoded, err := json.Marshal(task)
	if err != nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to marshal task for requeue")
		return
	}
	err = w.queue.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: unixScore(task.NotBefore), Member: string(encoded)}).Err()
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Str("task_id", task.ID).Msg("failed to requeue task")
	}
}

// backoff is min(2^attempts, MaxBackoff) seconds.
func (w *Worker) backoff(attempts int) time.Duration {
	if attempts > 30 {
		return w.MaxBackoff
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > w.MaxBackoff {
		return w.MaxBackoff
	}
	return d
}

func (w *Worker) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

func (w *Worker) beat(ctx context.Context) {
	err := w.queue.rdb.Set(ctx, heartbeatPrefix+w.id, strconv.FormatInt(time.Now().Unix(), 10), w.HeartbeatTTL).Err()
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("failed to publish heartbeat")
	}
}

func (w *Worker) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.promoteDue(ctx)
			w.observeDepth(ctx)
		}
	}
}

// promoteDue moves every delayed task whose ready time has passed onto the
// ready list. Pushing before removing keeps at-least-once delivery when
// several workers promote concurrently.
func (w *Worker) promoteDue(ctx context.Context) {
	max := strconv.FormatFloat(unixScore(time.Now()), 'f', -1, 64)
	members, err := w.queue.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("failed to list due tasks")
		}
		return
	}
	for _, raw := range members {
		pipe := w.queue.rdb.TxPipeline()
		pipe.LPush(ctx, readyKey, raw)
		pipe.ZRem(ctx, delayedKey, raw)
		if _, err := pipe.Exec(ctx); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("failed to promote task")
		}
	}
}

func (w *Worker) observeDepth(ctx context.Context) {
	ready, delayed, dead, err := w.queue.Depth(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.WithLabelValues("ready").Set(float64(ready))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	metrics.QueueDepth.WithLabelValues("dead").Set(float64(dead))
}

func (w *Worker) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.reap(ctx)
		}
	}
}

// reap requeues the processing lists of registered workers whose heartbeat
// key expired.
func (w *Worker) reap(ctx context.Context) {
	ids, err := w.queue.rdb.SMembers(ctx, workersKey).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("failed to list workers")
		}
		return
	}
	for _, id := range ids {
		if id == w.id {
			continue
		}
		alive, err := w.queue.rdb.Exists(ctx, heartbeatPrefix+id).Result()
		if err != nil || alive > 0 {
			continue
		}
		requeued := 0
		for {
			if _, err := w.queue.rdb.LMove(ctx, processingPrefix+id, readyKey, "RIGHT", "LEFT").Result(); err != nil {
				break
			}
			requeued++
		}
		w.queue.rdb.SRem(ctx, workersKey, id)
		w.log.Warn().Str("dead_worker", id).Int("requeued", requeued).Msg("requeued tasks from dead worker")
	}
}
