package worker

import (
	"context"
	"fmt"
)

// Task is the pending result of a signal handler. The host awaits it
// before it considers the signal handled.
type Task[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go runs fn on its own goroutine and returns the task tracking it
func Go[T any](fn func() (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("signal handler panicked: %v", r)
			}
		}()
		t.value, t.err = fn()
	}()
	return t
}

// Resolved returns an already completed task
func Resolved[T any](value T) *Task[T] {
	t := &Task[T]{done: make(chan struct{}), value: value}
	close(t.done)
	return t
}

// Done is closed once the task completed
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task completes or ctx is done
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
