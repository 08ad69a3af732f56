package ingest

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull indicates the job queue is at capacity. The caller
	// decides whether to retry or surface the backpressure.
	ErrQueueFull = errors.New("ingestion queue is full")

	// ErrPoolClosed indicates Submit was called after Close.
	ErrPoolClosed = errors.New("ingestion pool is closed")
)

// Pool runs ingestion jobs on a fixed number of workers with a bounded
// queue. A job that has started always runs to completion; Close waits
// for in-flight and queued jobs to finish.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines consuming a queue of queueSize.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{jobs: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Submit enqueues a job without blocking. A full queue returns
// ErrQueueFull rather than waiting.
func (p *Pool) Submit(job func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and blocks until queued and running jobs
// complete. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
