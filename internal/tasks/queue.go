// Package tasks provides the in-process background task queue used for
// deferred notification dispatch. Tasks run at-least-once with retries; a
// chained follow-up runs only after its predecessor succeeded.
package tasks

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// runTimeout bounds a single task attempt so a stuck mail call cannot pin a
// worker forever.
const runTimeout = 30 * time.Second

// Task is one unit of deferred work. Run must be safe to execute more than
// once: delivery is at-least-once.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type job struct {
	task Task
	then *Task
}

// Queue executes tasks on a fixed pool of workers. Enqueue never blocks the
// caller.
type Queue struct {
	jobs        chan job
	quit        chan struct{}
	maxAttempts int
	backoff     time.Duration

	// mu is held for reading across every send on jobs, so Shutdown's write
	// lock cannot proceed while a submitter is mid-send. jobs is never
	// closed; workers stop on quit after draining the buffer.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts workers goroutines. Each task is attempted up to
// maxAttempts times with backoff between attempts.
func NewQueue(workers, maxAttempts int, backoff time.Duration) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	q := &Queue{
		jobs:        make(chan job, 256),
		quit:        make(chan struct{}),
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue schedules t for execution. Returns an error only after Shutdown.
func (q *Queue) Enqueue(t Task) error {
	return q.submit(job{task: t})
}

// EnqueueChain schedules t, then `then` once t has succeeded. A failed t
// (after all attempts) drops the follow-up.
func (q *Queue) EnqueueChain(t, then Task) error {
	return q.submit(job{task: t, then: &then})
}

func (q *Queue) submit(j job) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return errors.New("tasks: queue is shut down")
	}
	select {
	case q.jobs <- j:
		q.mu.RUnlock()
	default:
		// Buffer full; hand off without blocking the request path. The read
		// lock travels with the goroutine so intake cannot be closed under
		// the pending send.
		go func() {
			defer q.mu.RUnlock()
			q.jobs <- j
		}()
	}
	return nil
}

// Shutdown stops intake, lets workers drain the buffer, and waits for
// in-flight tasks, or until ctx is done.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	close(q.quit)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case j := <-q.jobs:
			q.run(j)
		case <-q.quit:
			// Intake is stopped; finish whatever is still buffered.
			for {
				select {
				case j := <-q.jobs:
					q.run(j)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(j job) {
	if err := q.attempt(j.task); err != nil {
		log.Printf("tasks: %s failed permanently: %v", j.task.Name, err)
		return
	}
	if j.then != nil {
		if err := q.attempt(*j.then); err != nil {
			log.Printf("tasks: %s (follow-up of %s) failed permanently: %v",
				j.then.Name, j.task.Name, err)
		}
	}
}

func (q *Queue) attempt(t Task) error {
	var err error
	for i := 0; i < q.maxAttempts; i++ {
		if i > 0 {
			time.Sleep(q.backoff)
		}
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		err = t.Run(ctx)
		cancel()
		if err == nil {
			return nil
		}
		log.Printf("tasks: %s attempt %d/%d: %v", t.Name, i+1, q.maxAttempts, err)
	}
	return err
}
