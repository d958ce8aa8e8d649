package receipt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Dispatch when no queue slot is free
	ErrQueueFull = errors.New("side effect queue is full")

	// ErrWorkerStopped is returned by Dispatch after Stop
	ErrWorkerStopped = errors.New("side effect worker is stopped")
)

// WorkerConfig sizes the in-process worker pool
type WorkerConfig struct {
	Workers    int           // default 2
	QueueSize  int           // default 100
	JobTimeout time.Duration // default 2m
}

type task struct {
	ctx context.Context
	job Job
}

// Worker runs side effects on a bounded goroutine pool. Dispatch never
// blocks, and jobs outlive the context of the call that dispatched them.
type Worker struct {
	runner  JobRunner
	timeout time.Duration
	tasks   chan task
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewWorker starts the pool
func NewWorker(runner JobRunner, cfg WorkerConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}

	w := &Worker{
		runner:  runner,
		timeout: cfg.JobTimeout,
		tasks:   make(chan task, cfg.QueueSize),
	}
	w.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go w.loop()
	}
	return w
}

// Dispatch queues job
func (w *Worker) Dispatch(ctx context.Context, job Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrWorkerStopped
	}

	select {
	case w.tasks <- task{ctx: context.WithoutCancel(ctx), job: job}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued ones to finish or ctx to end
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.tasks)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for t := range w.tasks {
		w.run(t)
	}
}

func (w *Worker) run(t task) {
	ctx, cancel := context.WithTimeout(t.ctx, w.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Receipt side effects panicked", "receipt_id", t.job.ReceiptID, "panic", r)
		}
	}()

	if err := w.runner.Run(ctx, t.job); err != nil {
		slog.Error("Receipt side effects failed", "receipt_id", t.job.ReceiptID, "error", err)
	}
}
