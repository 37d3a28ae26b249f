package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[string](2)
	assert.True(t, rq.IsEmpty())

	require.NoError(t, rq.Enqueue("a"))
	require.NoError(t, rq.Enqueue("b"))
	assert.True(t, rq.IsFull())
	assert.ErrorIs(t, rq.Enqueue("c"), ErrQueueFull)

	front, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, "a", front)

	v, err := rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	// Wraps around the backing array.
	require.NoError(t, rq.Enqueue("c"))
	assert.Equal(t, 2, rq.Len())
	assert.True(t, rq.Contains(func(s string) bool { return s == "c" }))
	assert.False(t, rq.Contains(func(s string) bool { return s == "a" }))

	v, _ = rq.Dequeue()
	assert.Equal(t, "b", v)
	v, _ = rq.Dequeue()
	assert.Equal(t, "c", v)

	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = rq.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
