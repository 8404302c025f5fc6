package queue

import (
	"context"
	"sync"

	"reconpipe/pkg/errors"
)

const defaultBuffer = 1024

// MemoryQueue is the in-process implementation, suitable for single-node
// deployments and tests.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  chan Task
	closed bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		tasks: make(chan Task, defaultBuffer),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, task Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.ErrQueueClosed
	}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.ErrQueueClosed
	}

	out := make(chan Task)
	go func() {
		defer close(out)
		for {
			select {
			case task, ok := <-q.tasks:
				if !ok {
					return
				}
				select {
				case out <- task:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.tasks)
	return nil
}
