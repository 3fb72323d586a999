package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, "s1", []byte(fmt.Sprintf("m%d", i))))
	}

	for i := 0; i < 5; i++ {
		data, err := q.Dequeue(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("m%d", i), string(data))
	}

	_, err := q.Dequeue(ctx, "s1")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "s1", []byte("head")))
	require.NoError(t, q.Enqueue(ctx, "s1", []byte("tail")))

	head, err := q.Peek(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "head", string(head))

	size, err := q.Size(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestQueuesAreIndependent(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a", []byte("1")))
	require.NoError(t, q.Enqueue(ctx, "b", []byte("2")))

	data, err := q.Dequeue(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	size, err := q.Size(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestClear(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "s1", []byte("x")))
	require.NoError(t, q.Clear(ctx, "s1"))

	size, err := q.Size(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = q.Peek(ctx, "s1")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestConcurrentEnqueuePreservesCount(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Enqueue(ctx, "s1", []byte(fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	size, err := q.Size(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), size)
}
