// ============================================================================
// Rpool Queue Pair
// ============================================================================
//
// Package: internal/pool
// File: queue.go
// Function: The task_queue / in_q / out_q abstraction from spec.md section 3
// and the external interfaces spec.md section 6 expects from them: a
// blocking recv, a non-blocking poll, a read-lock with timed acquire, and a
// write lock that crash-cleanup alone is allowed to neutralize.
//
// Go channels already give safe concurrent multi-sender/multi-receiver
// semantics, which is most of what a pipe-backed multiprocessing queue has
// to work to provide. The read-lock and write-lock exist anyway, because
// spec.md's crash and shutdown protocols are written against them
// explicitly (the "help stuff finish" drain, the out-queue write-lock
// neutralization) and a faithful port keeps that interface intact rather
// than optimizing it away.
//
// ============================================================================

package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// noopLocker satisfies sync.Locker without doing anything. Swapping a
// queue's write lock for one of these is the "one-shot privilege
// escalation" design note from spec.md section 9: crash-cleanup has
// already proven no live writer remains, so taking the original lock
// (possibly held forever by a dead worker) is unnecessary and unsafe to
// wait on.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// timedSemaphore is a binary semaphore supporting acquire-with-timeout,
// which sync.Mutex does not offer. Modeled on the buffered-channel-as-signal
// idiom the teacher uses throughout (stopCh, taskCh) rather than on any
// single teacher type.
type timedSemaphore struct {
	slot chan struct{}
}

func newTimedSemaphore() *timedSemaphore {
	s := &timedSemaphore{slot: make(chan struct{}, 1)}
	s.slot <- struct{}{}
	return s
}

// tryAcquire blocks up to timeout for the semaphore. On success, release
// must be called exactly once.
func (s *timedSemaphore) tryAcquire(timeout time.Duration) (release func(), ok bool) {
	select {
	case <-s.slot:
		return func() { s.slot <- struct{}{} }, true
	case <-time.After(timeout):
		return func() {}, false
	}
}

// queue is the ordered byte-stream transport spec.md section 6 assumes:
// blocking recv, non-blocking poll, a timed read-lock, and a replaceable
// write lock. Elements are carried as interface{}; a nil element is the
// sentinel.
type queue struct {
	ch        chan interface{}
	readLock  *timedSemaphore
	writeLock atomic.Pointer[sync.Locker]
}

func newQueue(buffer int) *queue {
	q := &queue{
		ch:       make(chan interface{}, buffer),
		readLock: newTimedSemaphore(),
	}
	var l sync.Locker = &sync.Mutex{}
	q.writeLock.Store(&l)
	return q
}

// send pushes v under the write lock. A nil v pushes the sentinel.
func (q *queue) send(v interface{}) {
	lp := q.writeLock.Load()
	(*lp).Lock()
	defer (*lp).Unlock()
	q.ch <- v
}

// recv blocks for the next element (possibly the nil sentinel).
func (q *queue) recv() interface{} {
	return <-q.ch
}

// tryRecv polls without blocking.
func (q *queue) tryRecv() (v interface{}, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	default:
		return nil, false
	}
}

// acquireReadLock attempts to take the read lock within timeout. Release
// must be called (even on failure, where it is a no-op) to keep call sites
// uniform.
func (q *queue) acquireReadLock(timeout time.Duration) (release func(), ok bool) {
	return q.readLock.tryAcquire(timeout)
}

// drainReadable discards every element currently buffered without
// blocking, used by the "help stuff finish" shutdown step once the read
// lock has been acquired (or timed out and been bypassed anyway).
func (q *queue) drainReadable() {
	for {
		if _, ok := q.tryRecv(); !ok {
			return
		}
	}
}

// forceSentinel is the crash-only escape hatch: neutralize the write lock
// (it may be permanently held by a dead worker's writer goroutine) and push
// the sentinel directly. Only internal/pool/crash.go may call this.
func (q *queue) forceSentinel() {
	var noop sync.Locker = noopLocker{}
	q.writeLock.Store(&noop)
	q.ch <- nil
}
