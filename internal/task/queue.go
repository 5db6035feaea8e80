package task

import (
	"context"
	"time"
)

// queue is the bounded FIFO of pending tasks. Submitters wait at most
// submitWait for a slot; workers block on Receive until cancelled.
type queue struct {
	ch         chan Task
	submitWait time.Duration
}

func newQueue(capacity int, submitWait time.Duration) *queue {
	return &queue{ch: make(chan Task, capacity), submitWait: submitWait}
}

// Submit appends the task in FIFO order, waiting briefly under backpressure.
// Callers are request handlers, so it never blocks indefinitely.
func (q *queue) Submit(t Task) error {
	select {
	case q.ch <- t:
		return nil
	default:
	}
	timer := time.NewTimer(q.submitWait)
	defer timer.Stop()
	select {
	case q.ch <- t:
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

// Receive blocks until a task is available or the context is cancelled.
func (q *queue) Receive(ctx context.Context) (Task, bool) {
	select {
	case t := <-q.ch:
		return t, true
	case <-ctx.Done():
		return Task{}, false
	}
}

// Drain removes every not-yet-started task and returns them so ownership of
// their URLs can be released.
func (q *queue) Drain() []Task {
	drained := make([]Task, 0, len(q.ch))
	for {
		select {
		case t := <-q.ch:
			drained = append(drained, t)
		default:
			return drained
		}
	}
}
