// Package queue provides FIFO message queues on the shared coordination
// store. Ordering is guaranteed within one queue only; separate queues
// interleave arbitrarily.
package queue

import (
	"context"
	"errors"
)

// ErrEmpty is returned by Dequeue and Peek when the queue has no entries.
var ErrEmpty = errors.New("queue empty")

// Queue is a named FIFO of opaque payloads.
type Queue interface {
	// Enqueue appends data to the tail of the named queue.
	Enqueue(ctx context.Context, name string, data []byte) error

	// Dequeue removes and returns the head of the named queue.
	Dequeue(ctx context.Context, name string) ([]byte, error)

	// Peek returns the head without removing it.
	Peek(ctx context.Context, name string) ([]byte, error)

	// Size returns the number of queued entries.
	Size(ctx context.Context, name string) (int64, error)

	// Clear removes all entries from the named queue.
	Clear(ctx context.Context, name string) error
}
