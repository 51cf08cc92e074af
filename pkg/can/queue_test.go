package can

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDropsOldest(t *testing.T) {
	q := NewQueue(2)
	for i := 1; i <= 3; i++ {
		require.True(t, q.Push(Frame{ID: uint32(i)}))
	}
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())
	f, ok, err := q.Receive(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(2), f.ID)
	f, ok, err = q.Receive(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(3), f.ID)
}

func TestQueueReceiveTimeout(t *testing.T) {
	q := NewQueue(0)
	assert.Equal(t, DefaultQueueCapacity, q.Capacity)
	start := time.Now()
	_, ok, err := q.Receive(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestQueueReceiveWakesOnPush(t *testing.T) {
	q := NewQueue(4)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(Frame{ID: 0x52, Data: []byte{1}})
	}()
	f, ok, err := q.Receive(5 * time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0x52), f.ID)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(4)
	q.Push(Frame{ID: 1})
	done := make(chan error, 1)
	require.NoError(t, q.Close())
	assert.False(t, q.Push(Frame{ID: 2}))
	_, ok, err := q.Receive(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	go func() {
		_, _, err := q.Receive(5 * time.Second)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive not woken by Close")
	}
}
