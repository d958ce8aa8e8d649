package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TypeSideEffects is the asynq task type for receipt side effects
const TypeSideEffects = "receipt:side_effects"

// Enqueuer is the subset of the asynq client used by QueueDispatcher
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueConfig tunes the asynq dispatcher and worker
type QueueConfig struct {
	Queue       string // default "receipts"
	MaxRetry    int    // default 5
	Concurrency int    // worker goroutines, default 4
}

func (c *QueueConfig) defaults() {
	if c.Queue == "" {
		c.Queue = "receipts"
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// QueueDispatcher enqueues side effects on Redis so another process can run them
type QueueDispatcher struct {
	client Enqueuer
	cfg    QueueConfig
}

// NewQueueDispatcher connects to the Redis server at addr
func NewQueueDispatcher(addr string, cfg QueueConfig) *QueueDispatcher {
	return NewQueueDispatcherWithClient(asynq.NewClient(asynq.RedisClientOpt{Addr: addr}), cfg)
}

// NewQueueDispatcherWithClient creates a QueueDispatcher with a custom client for testing
func NewQueueDispatcherWithClient(client Enqueuer, cfg QueueConfig) *QueueDispatcher {
	cfg.defaults()
	return &QueueDispatcher{client: client, cfg: cfg}
}

// Dispatch enqueues job, keyed by receipt ID so a retried request is not
// queued twice
func (d *QueueDispatcher) Dispatch(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	task := asynq.NewTask(TypeSideEffects, payload,
		asynq.Queue(d.cfg.Queue),
		asynq.MaxRetry(d.cfg.MaxRetry),
		asynq.TaskID(job.ReceiptID),
	)
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueueing task: %w", err)
	}
	slog.Debug("Enqueued receipt side effects", "receipt_id", job.ReceiptID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Close closes the Redis connection
func (d *QueueDispatcher) Close() error {
	return d.client.Close()
}

// QueueWorker consumes side effect tasks and hands them to a JobRunner
type QueueWorker struct {
	runner JobRunner
	server *asynq.Server
}

// NewQueueWorker creates a worker for the Redis server at addr
func NewQueueWorker(addr string, runner JobRunner, cfg QueueConfig) *QueueWorker {
	cfg.defaults()
	server := asynq.NewServer(asynq.RedisClientOpt{Addr: addr}, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Error("Receipt task failed", "type", task.Type(), "error", err)
		}),
	})
	return &QueueWorker{runner: runner, server: server}
}

// HandleTask decodes the job and runs it. Malformed payloads are not retried.
func (q *QueueWorker) HandleTask(ctx context.Context, task *asynq.Task) error {
	var job Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("unmarshaling job: %v: %w", err, asynq.SkipRetry)
	}
	return q.runner.Run(ctx, job)
}

// Run processes tasks until the process receives a termination signal
func (q *QueueWorker) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSideEffects, q.HandleTask)
	if err := q.server.Run(mux); err != nil {
		return fmt.Errorf("running queue worker: %w", err)
	}
	return nil
}
