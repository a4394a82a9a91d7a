// Package parallel provides the bounded worker pool used to fan independent
// searches out over CPU cores.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/dd0wney/malaphor/pkg/logging"
)

var (
	// ErrTooManyWorkers is returned when the worker count exceeds MaxWorkers.
	ErrTooManyWorkers = errors.New("worker count exceeds maximum")

	// ErrPoolClosed is returned by Submit after Close or Wait.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// MaxWorkers bounds the pool size.
const MaxWorkers = 1024

// PanicError carries a panic recovered from a task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// WorkerPool runs submitted tasks on a fixed set of goroutines.
type WorkerPool struct {
	workers   int
	taskQueue chan func()
	wg        sync.WaitGroup
	once      sync.Once
	mu        sync.RWMutex // guards taskQueue against close during send
	closed    bool
	logger    logging.Logger

	errMu    sync.Mutex
	firstErr error
}

// NewWorkerPool starts a pool. workers <= 0 selects GOMAXPROCS.
func NewWorkerPool(workers int, logger logging.Logger) (*WorkerPool, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyWorkers, workers, MaxWorkers)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	pool := &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(), workers*2),
		logger:    logger.With(logging.Component("worker_pool")),
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}
	return pool, nil
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.taskQueue {
		wp.run(task)
	}
}

func (wp *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Value: r, Stack: debug.Stack()}
			wp.logger.Error("task panic recovered", logging.Error(perr))
			wp.errMu.Lock()
			if wp.firstErr == nil {
				wp.firstErr = perr
			}
			wp.errMu.Unlock()
		}
	}()
	task()
}

// Submit queues a task, blocking while the queue is full. It fails when the
// pool is closed or ctx is done first.
func (wp *WorkerPool) Submit(ctx context.Context, task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return ErrPoolClosed
	}
	select {
	case wp.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (wp *WorkerPool) Close() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.taskQueue)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}

// Wait closes the pool, drains it, and returns the first recovered panic as a
// *PanicError.
func (wp *WorkerPool) Wait() error {
	wp.Close()
	wp.errMu.Lock()
	defer wp.errMu.Unlock()
	return wp.firstErr
}
