package worker

import (
	"context"
	"sync"
	"sync/atomic"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// Pool runs jobs on a fixed set of workers. Results are delivered on
// Results() until the pool is closed.
type Pool struct {
	workers    int
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	submitted atomic.Int64
	completed atomic.Int64
}

// NewPool creates a pool. queueSize bounds jobs waiting for a worker and
// defaults to twice the worker count.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan Job, queueSize),
		results:    make(chan Result, queueSize),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start starts the worker goroutines
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := job.Execute(p.ctx)
			p.completed.Add(1)
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job, blocking while the queue is full. It returns false
// when the pool no longer accepts work.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return true
	}
}

// Results delivers job results; it is closed once the pool has stopped
func (p *Pool) Results() <-chan Result {
	return p.results
}

// InFlight is the number of submitted jobs whose result has not been produced
func (p *Pool) InFlight() int64 {
	return p.submitted.Load() - p.completed.Load()
}

// Close stops accepting jobs, lets queued jobs finish and closes Results().
// The caller must keep draining Results() until it is closed.
func (p *Pool) Close() {
	p.closeQueue()
	p.wg.Wait()
	p.closeResults()
}

// Wait closes the pool and returns every result not yet consumed
func (p *Pool) Wait() []Result {
	p.closeQueue()

	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	var results []Result
	for result := range p.results {
		results = append(results, result)
	}
	return results
}

// Shutdown shuts down the worker pool immediately
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.closeQueue()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool) closeQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobQueue)
	}
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		p.cancelFunc()
		close(p.results)
	})
}
