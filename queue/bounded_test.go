package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	_, err := New[int](0)
	require.Error(t, err)
	_, err = New[int](-1)
	require.Error(t, err)
}

func TestCapacityNeverExceeded(t *testing.T) {
	q, err := New[int](2)
	require.NoError(t, err)

	q.Push(1)
	q.Push(2)
	assert.Equal(t, 2, q.Size())

	done := make(chan struct{})
	go func() {
		q.Push(3) // blocks until a slot frees
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("push on full queue should have blocked")
	default:
	}
	assert.LessOrEqual(t, q.Size(), q.Capacity())

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	<-done
	assert.Equal(t, 2, q.Size())
}

func TestFIFOOrdering(t *testing.T) {
	q, err := New[string](8)
	require.NoError(t, err)

	q.Push("x")
	q.Push("y")
	q.Push("z")

	for _, want := range []string{"x", "y", "z"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestDrainAvailable(t *testing.T) {
	q, err := New[int](8)
	require.NoError(t, err)

	q.Push(1)
	q.Push(2)
	q.Push(3)

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, first)

	rest := q.DrainAvailable(q.Size())
	assert.Equal(t, []int{2, 3}, rest)
	assert.Equal(t, 0, q.Size())
}

func TestStopUnblocksPopAndPush(t *testing.T) {
	q, err := New[int](1)
	require.NoError(t, err)
	q.Push(1) // fill it

	var wg sync.WaitGroup
	wg.Add(2)

	var blockedPushReturned, blockedPopOk bool
	go func() {
		defer wg.Done()
		q.Push(2) // blocks: full
		blockedPushReturned = true
	}()

	q2, _ := New[int](1)
	go func() {
		defer wg.Done()
		_, ok := q2.Pop() // blocks: empty
		blockedPopOk = ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()
	q2.Stop()
	wg.Wait()

	assert.True(t, blockedPushReturned)
	assert.False(t, blockedPopOk)
}
