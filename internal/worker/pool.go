package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/logging"
)

var (
	// ErrPoolStopped is returned by Submit once shutdown has begun
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrShutdownTimeout means in-flight tasks outlived the grace period and were cancelled
	ErrShutdownTimeout = errors.New("shutdown grace period exceeded")
)

// Task is one unit of work run by the pool
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of long-lived workers. Submit hands a
// task straight to an idle worker, so at most `workers` tasks run at once
// and nothing is queued behind them.
type Pool struct {
	workers  int
	tasks    chan Task
	stopping chan struct{}
	wg       sync.WaitGroup

	ctx        context.Context
	cancelFunc context.CancelFunc
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewPool creates a pool with the given number of workers
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers:  workers,
		tasks:    make(chan Task),
		stopping: make(chan struct{}),
	}
}

// Workers returns the concurrency cap
func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers. Tasks receive a context derived from ctx that
// is cancelled when shutdown gives up waiting.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.ctx, p.cancelFunc = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopping:
			return
		case task := <-p.tasks:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logging.New("worker").WithField("worker", id).Errorf("Task panicked: %v", r)
		}
	}()
	task(p.ctx)
}

// Submit blocks until a worker accepts the task, ctx ends, or the pool stops
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if p.ctx == nil {
		return fmt.Errorf("submit: pool not started")
	}
	select {
	case <-p.stopping:
		return ErrPoolStopped
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.stopping:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits up to grace for running ones.
// On timeout their context is cancelled and ErrShutdownTimeout is returned
// without waiting further.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.stopOnce.Do(func() { close(p.stopping) })
	if p.cancelFunc == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.cancelFunc()
		return nil
	case <-timer.C:
		p.cancelFunc()
		return ErrShutdownTimeout
	}
}
