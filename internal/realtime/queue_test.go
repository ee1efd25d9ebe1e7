package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func barrier(t *testing.T, q *Queue) {
	t.Helper()
	done := make(chan struct{})
	if !q.Enqueue("barrier", func(context.Context) error {
		close(done)
		return nil
	}) {
		t.Fatal("enqueue on open queue failed")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain")
	}
}

func TestQueueRunsInSubmissionOrder(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.Enqueue("step", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
	}
	barrier(t, q)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran out of order (got %d)", i, v)
		}
	}
}

func TestQueueErrorDoesNotStopIt(t *testing.T) {
	var mu sync.Mutex
	var hookName string
	var hookErr error
	q := NewQueue(func(name string, err error) {
		mu.Lock()
		hookName, hookErr = name, err
		mu.Unlock()
	})
	defer q.Close()

	boom := errors.New("boom")
	q.Enqueue("exploding", func(context.Context) error { return boom })

	ran := false
	q.Enqueue("after", func(context.Context) error {
		ran = true
		return nil
	})
	barrier(t, q)

	if !ran {
		t.Fatal("task after a failing task did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	if hookName != "exploding" || !errors.Is(hookErr, boom) {
		t.Fatalf("error hook got (%q, %v)", hookName, hookErr)
	}
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := NewQueue(nil)
	barrier(t, q)

	q.Close()
	q.Close()

	if q.Enqueue("late", func(context.Context) error { return nil }) {
		t.Fatal("enqueue after close should report false")
	}
}

func TestQueueTaskSeesCancelledContextAfterClose(t *testing.T) {
	q := NewQueue(nil)

	started := make(chan struct{})
	finished := make(chan error, 1)
	q.Enqueue("slow", func(ctx context.Context) error {
		close(started)
		select {
		case <-ctx.Done():
			finished <- ctx.Err()
		case <-time.After(2 * time.Second):
			finished <- nil
		}
		return nil
	})

	<-started
	q.Close()

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("in-flight task context: got %v, want canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("in-flight task never finished")
	}
}
