package scheduler

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("pool closed")

// Pool runs jobs on a fixed set of workers fed by a bounded queue. When every
// worker is busy and the queue is full, Submit runs the job on the caller's
// goroutine instead of dropping it.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan func()
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines with a queue of queueSize pending jobs.
func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{jobs: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for range workers {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Submit hands job to a worker, or runs it inline when the pool is saturated.
// inline reports which happened.
func (p *Pool) Submit(job func()) (inline bool, err error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return false, ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
		return false, nil
	default:
	}
	p.mu.RUnlock()

	job()
	return true, nil
}

// Close stops accepting jobs and waits for queued and running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
