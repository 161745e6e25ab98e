package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Pool executes tasks in order of their deadlines, using a fixed number of goroutines.
// Tasks are added to the pool with a function that returns the next deadline.
// The pool will execute the tasks in the order of their deadlines, ensuring that
// tasks with earlier deadlines are executed before those with later deadlines.
// If a task is added while the pool is waiting for the next task, it will wake up
// the waiting goroutine to process the new task immediately.
//
// A task is never executed by two goroutines at once: it is off the queue while
// it runs. Returning the zero time removes a task from the pool.
type Pool struct {
	mu    sync.Mutex
	queue []*task
	reg   map[string]*task
	wait  chan struct{}
	idle  chan struct{} // closed when no task is registered
	wg    sync.WaitGroup
}

type task struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
	rerun    bool
}

// New starts workers goroutines executing tasks until ctx is cancelled. A task
// already running when ctx is cancelled is allowed to finish.
func New(ctx context.Context, workers int) *Pool {
	pool := &Pool{reg: make(map[string]*task)}

	for range workers {
		pool.wg.Add(1)
		go pool.work(ctx)
	}

	return pool
}

func (p *Pool) Add(name string, fn func(context.Context) time.Time) {
	p.enqueue(&task{name: name, fn: fn, deadline: time.Now()})
}

// Wait blocks until every worker has stopped, which happens after the pool's
// context is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Idle returns a channel closed once every task has removed itself from the
// pool.
func (p *Pool) Idle() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idle == nil {
		p.idle = make(chan struct{})
		if len(p.reg) == 0 {
			close(p.idle)
		}
	}
	return p.idle
}

// work is the main loop for each worker goroutine.
func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()

	for {
		t := p.dequeue(ctx)
		if t == nil {
			return
		}
		p.enqueue(t.Execute(ctx))
	}
}

// Trigger runs the named task NOW, if it is in the queue, regardless of the
// previous deadline, by pulling it into the front of the queue. If the named
// task is not queued, it's running. In that case, we'll have it override its
// next deadline to NOW, causing an immediate re-run after the current run.
// Subsequent runs will use the deadline returned by the task's `fn`.
func (p *Pool) Trigger(n string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := slices.IndexFunc(p.queue, func(t *task) bool { return t.name == n }); i != -1 {
		p.queue[i].deadline = time.Now()
		p.sortAndWake()
		return nil
	}
	// if it's not in p.queue, it must be running at the moment
	if t, ok := p.reg[n]; ok {
		t.rerun = true
		return nil
	}

	return fmt.Errorf("no task with name %s", n)
}

// sortAndWake is used in multiple places, but always needs to be run
// within a p.mu lock!
func (p *Pool) sortAndWake() {
	// Maintain the tasks in deadline order.
	slices.SortFunc(p.queue, func(a, b *task) int {
		return a.deadline.Compare(b.deadline)
	})

	// Wake up any waiting goroutine.
	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) enqueue(t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.deadline.IsZero() {
		// Task requested removal from the pool.
		delete(p.reg, t.name)
		if len(p.reg) == 0 && p.idle != nil {
			select {
			case <-p.idle:
			default:
				close(p.idle)
			}
		}
		return
	}

	if len(p.reg) == 0 && p.idle != nil {
		select {
		case <-p.idle:
			p.idle = nil // busy again
		default:
		}
	}

	p.reg[t.name] = t
	p.queue = append(p.queue, t)
	p.sortAndWake()
}

// dequeue blocks until the earliest task is due and removes it from the queue.
// It returns nil once ctx is cancelled.
func (p *Pool) dequeue(ctx context.Context) *task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return nil
		}

		var t *task
		if len(p.queue) == 0 {
			t = &task{name: "dummy", deadline: time.Now().Add(time.Hour * 24 * 365)} // Default to a far future deadline
		} else {
			t = p.queue[0]
		}

		if t.deadline.After(time.Now()) {
			// Task is not ready yet, wait for it to be executed or another (potentially earlier) task to arrive.

			if p.wait == nil {
				p.wait = make(chan struct{})
			}

			wait := p.wait

			p.mu.Unlock()

			timer := time.NewTimer(time.Until(t.deadline))
			select {
			case <-timer.C:
			case <-wait:
			case <-ctx.Done():
			}
			timer.Stop()

			p.mu.Lock()
			continue
		}

		// The first queued task is ready to be executed, remove it from the queue.
		break
	}

	var t *task
	t, p.queue = p.queue[0], p.queue[1:]
	return t
}

func (t *task) Execute(ctx context.Context) *task {
	t.deadline = t.fn(ctx)
	if t.rerun && !t.deadline.IsZero() {
		t.rerun = false
		t.deadline = time.Now()
	}
	return t
}
