package realtime

import (
	"context"
	"sync"
)

type queueTask struct {
	name string
	fn   func(context.Context) error
}

// Queue runs a session's mutating work as a strict FIFO on one goroutine.
// A task error goes to the error hook and never stops the queue; the hook
// decides between silent recovery and a client-visible error frame.
type Queue struct {
	ctx     context.Context
	cancel  context.CancelFunc
	onError func(name string, err error)

	mu     sync.Mutex
	tasks  []queueTask
	closed bool
	wake   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue(onError func(name string, err error)) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ctx:     ctx,
		cancel:  cancel,
		onError: onError,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue appends a task. Returns false once the queue is closed; the task
// is then dropped.
func (q *Queue) Enqueue(name string, fn func(context.Context) error) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, queueTask{name: name, fn: fn})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-q.ctx.Done():
				// keep draining until Close marks the queue closed
				q.mu.Lock()
				closed = q.closed
				q.mu.Unlock()
				if closed {
					return
				}
			}
			continue
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		if err := t.fn(q.ctx); err != nil && q.onError != nil {
			q.onError(t.name, err)
		}
	}
}

// Close cancels the task context, abandons pending tasks, and waits for the
// in-flight task to return. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.tasks = nil
		q.mu.Unlock()
		q.cancel()
		select {
		case q.wake <- struct{}{}:
		default:
		}
		<-q.done
	})
}
