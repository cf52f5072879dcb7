// Package workerpool runs tasks on a fixed number of goroutines with
// bounded queueing and per-task retries.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when submitting to a pool that is shutting down.
var ErrStopped = errors.New("worker pool is stopped")

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload interface{}
}

// Result represents the outcome of task processing
type Result struct {
	TaskID   string
	Attempts int
	Err      error
}

// WorkerFunc processes one task. A non-nil error is retried unless the
// pool's Retryable hook rejects it.
type WorkerFunc func(ctx context.Context, task *Task) error

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the maximum number of retries for failed tasks
	MaxRetries int
	// RetryDelay is the base delay between retries, multiplied by the attempt number
	RetryDelay time.Duration
	// GracefulShutdownTimeout bounds how long Stop waits for queued tasks
	GracefulShutdownTimeout time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// DefaultConfig returns sensible defaults for notification delivery
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               256,
		MaxRetries:              3,
		RetryDelay:              500 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

type job struct {
	ctx  context.Context
	task *Task
	done chan Result
}

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	jobs    chan job
	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
}

// New creates a new worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		jobs:       make(chan job, cfg.QueueSize),
		stopped:    make(chan struct{}),
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues task and returns without waiting for it to run. It blocks
// while the queue is full.
func (p *Pool) Submit(ctx context.Context, task *Task) error {
	return p.enqueue(ctx, task, nil)
}

// Do queues task and waits for its final result.
func (p *Pool) Do(ctx context.Context, task *Task) Result {
	done := make(chan Result, 1)
	if err := p.enqueue(ctx, task, done); err != nil {
		return Result{TaskID: task.ID, Err: err}
	}
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{TaskID: task.ID, Err: ctx.Err()}
	}
}

func (p *Pool) enqueue(ctx context.Context, task *Task, done chan Result) error {
	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	select {
	case p.jobs <- job{ctx: ctx, task: task, done: done}:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks, drains the queue and waits for the workers.
func (p *Pool) Stop() error {
	var err error
	p.once.Do(func() {
		p.logger.Info("stopping worker pool")
		close(p.stopped)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped gracefully")
		case <-time.After(p.config.GracefulShutdownTimeout):
			err = fmt.Errorf("worker pool shutdown timed out after %s", p.config.GracefulShutdownTimeout)
			p.logger.Warn("worker pool shutdown timed out")
		}
	})
	return err
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.jobs:
			p.run(id, j)
		case <-p.stopped:
			// drain what is already queued, then exit
			for {
				select {
				case j := <-p.jobs:
					p.run(id, j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(workerID int, j job) {
	res := p.process(j.ctx, j.task)
	if res.Err == nil {
		atomic.AddInt64(&p.tasksCompleted, 1)
	} else {
		atomic.AddInt64(&p.tasksFailed, 1)
		p.logger.Error("task failed",
			zap.String("task_id", j.task.ID),
			zap.Int("worker_id", workerID),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Err))
	}
	if j.done != nil {
		j.done <- res
	}
}

func (p *Pool) process(ctx context.Context, task *Task) Result {
	res := Result{TaskID: task.ID}
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		res.Attempts++
		err := p.workerFunc(ctx, task)
		if err == nil {
			res.Err = nil
			return res
		}
		res.Err = err

		if p.config.Retryable != nil && !p.config.Retryable(err) {
			return res
		}
		if attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	res.Err = fmt.Errorf("task failed after %d attempts: %w", res.Attempts, res.Err)
	return res
}

// Stats holds pool counters
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	QueueDepth     int
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		QueueDepth:     len(p.jobs),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}
