package workers

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is returned when dispatching to a stopped pool.
var ErrStopped = errors.New("worker pool stopped")

type Task struct {
	Key string
	Fn  func()
}

// WorkerPool runs tasks on a fixed set of goroutines. Tasks with the same key
// always land on the same worker, so they run in dispatch order.
type WorkerPool struct {
	NumWorkers int
	queues     []chan Task
	wg         sync.WaitGroup
	log        *zap.SugaredLogger

	mu      sync.RWMutex
	stopped bool
}

func NewWorkerPool(n, queueSize int, log *zap.SugaredLogger) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	wp := &WorkerPool{
		NumWorkers: n,
		queues:     make([]chan Task, n),
		log:        log.Named("workers"),
	}

	for i := 0; i < n; i++ {
		ch := make(chan Task, queueSize)
		wp.queues[i] = ch

		wp.wg.Add(1)
		go func(id int, q chan Task) {
			defer wp.wg.Done()
			for task := range q {
				wp.run(id, task)
			}
		}(i, ch)
	}

	return wp
}

func (wp *WorkerPool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			wp.log.Errorw("task panicked", "worker", id, "key", task.Key, "panic", r)
		}
	}()
	task.Fn()
}

func (wp *WorkerPool) queueFor(key string) chan Task {
	return wp.queues[int(HashString(key)%uint32(wp.NumWorkers))]
}

// Dispatch enqueues fn, blocking while the worker's queue is full.
func (wp *WorkerPool) Dispatch(key string, fn func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrStopped
	}
	wp.queueFor(key) <- Task{Key: key, Fn: fn}
	return nil
}

// TryDispatch enqueues fn without blocking and reports whether it was accepted.
func (wp *WorkerPool) TryDispatch(key string, fn func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.queueFor(key) <- Task{Key: key, Fn: fn}:
		return true
	default:
		return false
	}
}

// Stop drains queued tasks and waits for the workers to exit.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	for _, q := range wp.queues {
		close(q)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
}

// HashString is 32-bit FNV-1a.
func HashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
