package worker

import (
	"context"
	"sync"
)

// Task is a unit of work executed by the pool
type Task[T any] func(ctx context.Context) T

type queued[T any] struct {
	index int
	task  Task[T]
}

// Pool runs tasks on a fixed number of workers and returns their results in
// submission order
type Pool[T any] struct {
	workers    int
	jobQueue   chan queued[T]
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	mu        sync.Mutex
	submitted int
	results   map[int]T
}

// NewPool creates a new worker pool bound to the parent context
func NewPool[T any](parent context.Context, workers int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	return &Pool[T]{
		workers:    workers,
		jobQueue:   make(chan queued[T], workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
		results:    make(map[int]T),
	}
}

// Start starts the worker pool
func (p *Pool[T]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			value := job.task(p.ctx)

			p.mu.Lock()
			p.results[job.index] = value
			p.mu.Unlock()
		}
	}
}

// Submit queues a task. It returns false when the pool was cancelled before
// the task could be queued.
func (p *Pool[T]) Submit(task Task[T]) bool {
	p.mu.Lock()
	index := p.submitted
	p.submitted++
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- queued[T]{index: index, task: task}:
		return true
	}
}

// Wait waits for the queued tasks and returns one slot per submitted task
// in submission order, plus whether each slot holds a result. Slots stay
// empty for tasks the pool never ran because it was cancelled.
func (p *Pool[T]) Wait() ([]T, []bool) {
	p.closeQueue()
	p.wg.Wait()
	p.cancelFunc()

	p.mu.Lock()
	defer p.mu.Unlock()

	values := make([]T, p.submitted)
	done := make([]bool, p.submitted)
	for i, v := range p.results {
		values[i] = v
		done[i] = true
	}
	return values, done
}

// Shutdown stops the pool immediately; running tasks see a cancelled context
func (p *Pool[T]) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
}

func (p *Pool[T]) closeQueue() {
	p.closeOnce.Do(func() {
		close(p.jobQueue)
	})
}
