package workers

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameKeyRunsInOrder(t *testing.T) {
	wp := NewWorkerPool(4, 10, nil)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, wp.Dispatch("user-1", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wp.Stop()

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestAllTasksRunBeforeStopReturns(t *testing.T) {
	wp := NewWorkerPool(3, 5, nil)
	var n atomic.Int64
	for i := 0; i < 30; i++ {
		key := string(rune('a' + i%7))
		require.NoError(t, wp.Dispatch(key, func() { n.Add(1) }))
	}
	wp.Stop()
	assert.Equal(t, int64(30), n.Load())
}

func TestTryDispatchWhenFull(t *testing.T) {
	wp := NewWorkerPool(1, 1, nil)
	block := make(chan struct{})
	started := make(chan struct{})

	require.True(t, wp.TryDispatch("k", func() {
		close(started)
		<-block
	}))
	<-started
	assert.True(t, wp.TryDispatch("k", func() {}))  // fills the queue
	assert.False(t, wp.TryDispatch("k", func() {})) // queue full

	close(block)
	wp.Stop()
}

func TestDispatchAfterStop(t *testing.T) {
	wp := NewWorkerPool(2, 1, nil)
	wp.Stop()
	wp.Stop()

	assert.ErrorIs(t, wp.Dispatch("k", func() {}), ErrStopped)
	assert.False(t, wp.TryDispatch("k", func() {}))
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	wp := NewWorkerPool(1, 2, nil)
	done := make(chan struct{})
	require.NoError(t, wp.Dispatch("k", func() { panic("boom") }))
	require.NoError(t, wp.Dispatch("k", func() { close(done) }))
	<-done
	wp.Stop()
}

func TestHashStringStable(t *testing.T) {
	assert.Equal(t, HashString("session-42"), HashString("session-42"))
	assert.Equal(t, uint32(2166136261), HashString(""))
}
