// Package workerpool provides the process-wide background-task pool
// that the Domains Manager uses for fire-and-forget work: endpoint
// pre-resolution, resolution refresh, and opportunistic persistence.
// The upload drivers do not submit tasks to it. A task submitted here
// must never be relied on to observe the caller's failure — it only ever affects state the
// foreground request will re-check on its own next attempt.
package workerpool

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
	size  int
	log   zerolog.Logger
}

// New starts a Pool with the given number of workers. size <= 0 is
// treated as 1, mirroring the Rust SDK's single-thread default.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
		size:  size,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogger attaches a logger used to report recovered task panics.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.runSafely(task)
		}
	}
}

func (p *Pool) runSafely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("workerpool: recovered panic in background task")
		}
	}()
	task()
}

// Submit enqueues task to run on one of the pool's goroutines. It
// never blocks the caller waiting for the task to run; if the internal
// queue is full, the task runs synchronously rather than being dropped
// or blocking, since spec'd background work (persistence, refresh)
// must eventually happen, just not necessarily concurrently.
func (p *Pool) Submit(task func()) {
	select {
	case p.tasks <- task:
	default:
		p.runSafely(task)
	}
}

// NumWorkers returns the number of goroutines backing the pool.
func (p *Pool) NumWorkers() int { return p.size }

// Close stops accepting new goroutine dispatch and waits for
// in-flight tasks to finish. Queued-but-not-started tasks are
// abandoned, matching "fire and forget" semantics.
func (p *Pool) Close() {
	close(p.done)
	p.wg.Wait()
}

// -----------------------------------------------------------------------------------------
// Process-global handle, the Go analogue of the Rust SDK's
// lazy_static! RwLock<ThreadPool>. Swappable via Recreate so it
// survives being rebuilt after a fork without callers needing to
// re-fetch a handle.

var global atomic.Pointer[Pool]

func init() {
	global.Store(New(1))
}

// Default returns the current process-wide pool.
func Default() *Pool {
	return global.Load()
}

// Recreate rebuilds the process-wide pool with numThreads workers.
// numThreads <= 0 keeps the current size. The previous pool's handle
// is simply dropped, not closed: after fork() its goroutines do not
// exist in the child, so waiting on them would hang.
func Recreate(numThreads int) {
	prev := global.Load()
	if numThreads <= 0 {
		numThreads = prev.NumWorkers()
	}
	next := New(numThreads, WithLogger(prev.log))
	global.Store(next)
}

// Submit enqueues task on the process-wide default pool.
func Submit(task func()) {
	Default().Submit(task)
}
