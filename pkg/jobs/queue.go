package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of background work. Attempts counts how many times the
// pool has already tried it.
type Task struct {
	ID        string
	Kind      string
	Payload   interface{}
	Attempts  int
	CreatedAt time.Time
}

// TaskFunc processes a task. A non-nil error schedules a retry until the
// pool's attempt limit is reached.
type TaskFunc func(context.Context, Task) error

// PoolOptions tunes a worker pool. Zero values pick conservative defaults.
type PoolOptions struct {
	Workers     int
	QueueDepth  int
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zap.Logger
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.QueueDepth < 1 {
		o.QueueDepth = o.Workers * 4
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Pool runs tasks on a fixed set of goroutines fed by a buffered channel.
// Failed tasks are requeued after a backoff; tasks that keep failing are
// dropped once the attempt limit is hit.
type Pool struct {
	name string
	run  TaskFunc
	opts PoolOptions

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewPool builds a stopped pool. Call Start before Submit.
func NewPool(name string, run TaskFunc, opts PoolOptions) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		name:  name,
		run:   run,
		opts:  opts,
		tasks: make(chan Task, opts.QueueDepth),
	}
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.running = true
	p.opts.Logger.Info("worker pool started",
		zap.String("pool", p.name),
		zap.Int("workers", p.opts.Workers),
	)
}

// Stop cancels the workers and blocks until they exit. Tasks still sitting
// in the buffer are discarded.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
	p.opts.Logger.Info("worker pool stopped", zap.String("pool", p.name))
}

// Submit hands a task to the pool, blocking while the buffer is full.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	ctx := p.ctx
	running := p.running
	p.mu.Unlock()

	if !running {
		return fmt.Errorf("pool %s is not running", p.name)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("pool %s shutting down: %w", p.name, ctx.Err())
	case p.tasks <- task:
		return nil
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			task.Attempts++
			if err := p.run(p.ctx, task); err != nil {
				p.retry(task, err)
			}
		}
	}
}

func (p *Pool) retry(task Task, cause error) {
	if task.Attempts >= p.opts.MaxAttempts {
		p.opts.Logger.Error("task dropped after repeated failures",
			zap.String("pool", p.name),
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Int("attempts", task.Attempts),
			zap.Error(cause),
		)
		return
	}
	p.opts.Logger.Warn("task failed, will retry",
		zap.String("pool", p.name),
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempts", task.Attempts),
		zap.Error(cause),
	)

	go func() {
		timer := time.NewTimer(p.opts.Backoff)
		defer timer.Stop()
		select {
		case <-p.ctx.Done():
		case <-timer.C:
			if err := p.Submit(task); err != nil {
				p.opts.Logger.Error("task requeue failed",
					zap.String("pool", p.name),
					zap.String("task_id", task.ID),
					zap.Error(err),
				)
			}
		}
	}()
}
