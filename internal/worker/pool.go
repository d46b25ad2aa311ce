package worker

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	ErrQueueFull   = errors.New("delivery queue full")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is one unit of work, typically a single delivery attempt.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of worker goroutines fed by a bounded queue.
// Delayed tasks wait on timers, not on workers.
type Pool struct {
	numWorkers int
	tasks      chan Task
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu       sync.RWMutex
	stopped  bool
	timers   map[*time.Timer]struct{}
	quit     chan struct{}
	stopOnce sync.Once
}

// NewPool creates a worker pool with the given number of workers and queue size.
func NewPool(numWorkers, queueSize int, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = numWorkers * 2
	}
	return &Pool{
		numWorkers: numWorkers,
		tasks:      make(chan Task, queueSize),
		logger:     logger,
		timers:     make(map[*time.Timer]struct{}),
		quit:       make(chan struct{}),
	}
}

// Start launches all worker goroutines. Tasks receive ctx; cancelling it does
// not stop the workers, Stop does.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers, "queue_size", cap(p.tasks))
}

// TrySubmit enqueues task without blocking.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAfter enqueues task once delay has elapsed. When the timer fires the
// task waits for queue space without holding the pool lock. It returns false
// if the pool is stopped.
func (p *Pool) SubmitAfter(delay time.Duration, task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		stopped := p.stopped
		p.mu.Unlock()

		if stopped || !p.submitWait(task) {
			p.logger.Warn("worker pool stopped, dropping delayed task")
		}
	})
	p.timers[timer] = struct{}{}
	return true
}

// submitWait blocks until the queue accepts task or the pool stops. The
// task channel is never closed, so no lock is needed around the send.
func (p *Pool) submitWait(task Task) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	case <-p.quit:
		return false
	}
}

// QueueDepth returns the number of tasks waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.tasks)
}

// Scheduled returns the number of delayed tasks waiting on timers.
func (p *Pool) Scheduled() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.timers)
}

// Stop refuses new tasks, cancels pending timers and waits for queued and
// in-flight tasks to finish or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		suppressed := 0
		for t := range p.timers {
			if t.Stop() {
				suppressed++
			}
		}
		p.timers = nil
		close(p.quit)
		p.mu.Unlock()

		if suppressed > 0 {
			p.logger.Warn("suppressed scheduled tasks on shutdown", "count", suppressed)
		}
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker runs tasks until the pool stops, then drains what is still queued.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.tasks:
			p.run(ctx, id, task)
		case <-p.quit:
			for {
				select {
				case task := <-p.tasks:
					p.run(ctx, id, task)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				"worker_id", id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task(ctx)
}
