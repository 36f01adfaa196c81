package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue is full")
)

// Task references a job waiting to run. Higher Priority runs first; equal
// priorities run in push order.
type Task struct {
	JobID     string
	Priority  int
	CreatedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

type InMemoryQueue struct {
	mu      sync.Mutex
	pending []*Task
	limit   int

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewInMemoryQueue returns a priority queue holding at most limit tasks.
// limit <= 0 means unbounded.
func NewInMemoryQueue(limit int) *InMemoryQueue {
	return &InMemoryQueue{
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	if q.isClosed() {
		return ErrQueueClosed
	}

	q.mu.Lock()
	if q.limit > 0 && len(q.pending) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	// Insert after every task of the same or higher priority.
	at, _ := slices.BinarySearchFunc(q.pending, task.Priority, func(t *Task, p int) int {
		if t.Priority >= p {
			return -1
		}
		return 1
	})
	q.pending = slices.Insert(q.pending, at, task)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Pop blocks until a task is available, the queue is closed or ctx is done.
// Tasks left at Close are still handed out before ErrQueueClosed.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		if task := q.next(); task != nil {
			return task, nil
		}

		select {
		case <-q.wake:
		case <-q.done:
			if task := q.next(); task != nil {
				return task, nil
			}
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *InMemoryQueue) next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	task := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		q.signal()
	}
	return task
}

func (q *InMemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *InMemoryQueue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *InMemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
