package queue

import (
	"context"
	"sync"
)

// MemoryQueue implements Queue in process memory. Used in tests and as the
// degraded fallback when the coordination store is unreachable.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

// NewMemoryQueue creates an empty in-memory queue set.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string][][]byte)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, name string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	q.queues[name] = append(q.queues[name], cp)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, name string) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.queues[name]
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	head := entries[0]
	q.queues[name] = entries[1:]
	if len(q.queues[name]) == 0 {
		delete(q.queues, name)
	}
	return head, nil
}

func (q *MemoryQueue) Peek(_ context.Context, name string) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.queues[name]
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	return entries[0], nil
}

func (q *MemoryQueue) Size(_ context.Context, name string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.queues[name])), nil
}

func (q *MemoryQueue) Clear(_ context.Context, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, name)
	return nil
}
