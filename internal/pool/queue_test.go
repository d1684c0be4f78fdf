package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueSendRecv(t *testing.T) {
	q := newQueue(1)
	q.send(42)
	assert.Equal(t, 42, q.recv())
}

func TestQueueSendNilIsSentinel(t *testing.T) {
	q := newQueue(1)
	q.send(nil)
	assert.Nil(t, q.recv())
}

func TestQueueTryRecvEmpty(t *testing.T) {
	q := newQueue(1)
	_, ok := q.tryRecv()
	assert.False(t, ok)
}

func TestQueueTryRecvNonEmpty(t *testing.T) {
	q := newQueue(1)
	q.send("x")
	v, ok := q.tryRecv()
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestQueueDrainReadableDiscardsAllBuffered(t *testing.T) {
	q := newQueue(3)
	q.send(1)
	q.send(2)
	q.send(3)
	q.drainReadable()
	_, ok := q.tryRecv()
	assert.False(t, ok)
}

func TestQueueAcquireReadLockSucceedsWhenFree(t *testing.T) {
	q := newQueue(1)
	release, ok := q.acquireReadLock(50 * time.Millisecond)
	require.True(t, ok)
	release()
}

func TestQueueAcquireReadLockTimesOutWhenHeld(t *testing.T) {
	q := newQueue(1)
	release, ok := q.acquireReadLock(50 * time.Millisecond)
	require.True(t, ok)
	defer release()

	_, ok = q.acquireReadLock(20 * time.Millisecond)
	assert.False(t, ok)
}

func TestQueueForceSentinelBypassesWedgedWriteLock(t *testing.T) {
	q := newQueue(1)

	// Simulate a writer that took the lock and will never release it,
	// e.g. a crashed worker's shepherd goroutine.
	lp := q.writeLock.Load()
	(*lp).Lock()

	done := make(chan struct{})
	go func() {
		q.forceSentinel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forceSentinel did not return despite wedged write lock")
	}

	assert.Nil(t, q.recv())
}

func TestQueueConcurrentSendRecv(t *testing.T) {
	q := newQueue(0)
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			q.send(i)
		}(i)
	}

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		v := q.recv().(int)
		seen[v] = true
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
