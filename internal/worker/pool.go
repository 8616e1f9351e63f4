package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fdp-index/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is a unit of background work. The context is cancelled when the pool
// is forced to stop.
type Task func(ctx context.Context)

// Pool runs fire-and-forget tasks with bounded parallelism. Submit never
// blocks: every task gets its own goroutine which waits for a slot.
//
// While Shutdown drains, tasks are still accepted as long as earlier ones are
// running. Follow-up work submitted by a running task therefore completes.
type Pool struct {
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	stopped  bool
	inflight int
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

func NewPool(size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

func (p *Pool) Submit(name string, task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.closed && p.inflight == 0 {
		return fmt.Errorf("submit %s: %w", name, ErrPoolClosed)
	}

	p.inflight++
	p.wg.Add(1)
	metrics.WorkerTasksInFlight.Inc()
	go p.run(name, task)
	return nil
}

func (p *Pool) run(name string, task Task) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
	}()
	defer metrics.WorkerTasksInFlight.Dec()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.logger.Warn("Task dropped before start", zap.String("task", name), zap.Error(err))
		return
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked",
				zap.String("task", name),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	task(p.ctx)
}

// Wait blocks until every submitted task has completed
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting new work and waits until running tasks, and any
// tasks they submit, have completed. When ctx expires first, running tasks
// are cancelled. No task is accepted once Shutdown returns.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
	return err
}
