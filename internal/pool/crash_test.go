package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

func TestCleanUpCrashLockedTerminatesWorkersAndFailsPending(t *testing.T) {
	p := NewPool(Config{Processes: 2})

	h1 := newFakeWorkerHandle(1)
	h2 := newFakeWorkerHandle(2)
	p.workers = []*workerEntry{
		{handle: h1, shepherdWG: &sync.WaitGroup{}},
		{handle: h2, shepherdWG: &sync.WaitGroup{}},
	}

	job1, err := p.Submit(&pkgpool.TaskEnvelope{Func: "square"})
	require.NoError(t, err)
	job2, err := p.Submit(&pkgpool.TaskEnvelope{Func: "square"})
	require.NoError(t, err)

	p.cleanUpCrashLocked(pkgpool.ReasonWorkerDeath, 137)

	assert.Equal(t, pkgpool.BROKEN, p.state)

	// Step 3: every worker handle still tracked must have been terminated.
	assert.True(t, h1.terminated)
	assert.True(t, h2.terminated)

	// Step 4: every pending job fails uniformly with AbortedWorkerError.
	for _, j := range []*Job{{inner: job1.inner}, {inner: job2.inner}} {
		_, err := j.Wait(context.Background())
		require.Error(t, err)
		var aborted *pkgpool.AbortedWorkerError
		require.ErrorAs(t, err, &aborted)
		assert.Equal(t, pkgpool.ReasonWorkerDeath, aborted.Reason)
		assert.Equal(t, 137, aborted.ExitCode)
	}
	assert.Equal(t, 0, p.pending.len())

	// Step 1: the task-handler's sentinel must be in task_queue, queued
	// behind the two submitted tasks no task-handler loop has moved yet.
	for i := 0; i < 2; i++ {
		task, ok := p.taskQueue.tryRecv()
		require.True(t, ok)
		require.NotNil(t, task)
	}
	v, ok := p.taskQueue.tryRecv()
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestCleanUpCrashLockedPushesOutQSentinelDespiteWedgedWriteLock(t *testing.T) {
	p := NewPool(Config{Processes: 1})
	p.workers = []*workerEntry{{handle: newFakeWorkerHandle(1), shepherdWG: &sync.WaitGroup{}}}

	// Simulate a dead worker's shepherd having permanently wedged out_q's
	// write lock (the reason step 6 neutralizes it instead of acquiring it):
	// lock it here and never unlock.
	lp := p.outQ.writeLock.Load()
	(*lp).Lock()

	p.cleanUpCrashLocked(pkgpool.ReasonWorkerDeath, 1)

	v := p.outQ.recv()
	assert.Nil(t, v)
}

func TestCleanUpCrashLockedReportsAbortedMetric(t *testing.T) {
	p := NewPool(Config{Processes: 1})
	m := &recordingMetrics{}
	p.metrics = m

	_, err := p.Submit(&pkgpool.TaskEnvelope{Func: "square"})
	require.NoError(t, err)

	p.cleanUpCrashLocked(pkgpool.ReasonTaskHandlerCrashed, 0)

	assert.Equal(t, 1, m.aborted)
	assert.Equal(t, pkgpool.BROKEN, m.lastState)
	assert.Len(t, m.latencies, 1, "crash cleanup should observe one submit-to-fulfilment sample per aborted job")
}
