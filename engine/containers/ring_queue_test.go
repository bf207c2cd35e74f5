package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[uint64](3)

	_, err := rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)

	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	require.NoError(t, rq.Enqueue(3))
	assert.True(t, rq.IsFull())
	assert.ErrorIs(t, rq.Enqueue(4), ErrQueueFull)

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	v, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	// wrap around
	require.NoError(t, rq.Enqueue(4))
	for _, want := range []uint64{2, 3, 4} {
		v, err = rq.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.True(t, rq.IsEmpty())
	assert.Equal(t, 0, rq.Len())
}
