package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

// newTestPool builds a Pool with no real workers spawned and its helper
// loops running, mirroring Start() minus repopulateLocked so tests can
// populate p.workers with fakeWorkerHandles directly.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(Config{Processes: 2})
	// The background maintenance ticker fires every 200ms and would try to
	// spawn real subprocesses to fill nproc; pin it to 0 so tests that add
	// workers manually via addFakeWorker stay in full control of the set.
	p.nproc = 0
	p.taskHandlerAlive.Store(true)
	p.resultHandlerAlive.Store(true)
	p.loopWg.Add(3)
	go p.taskHandlerLoop()
	go p.resultHandlerLoop()
	go p.maintainLoop()
	return p
}

func addFakeWorker(p *Pool, pid int) *fakeWorkerHandle {
	h := newFakeWorkerHandle(pid)
	p.maintainMu.Lock()
	p.workers = append(p.workers, &workerEntry{handle: h, shepherdWG: &sync.WaitGroup{}})
	p.maintainMu.Unlock()
	return h
}

func TestNewPoolDefaults(t *testing.T) {
	p := NewPool(Config{})
	assert.Equal(t, pkgpool.RUN, p.state)
	assert.Greater(t, p.nproc, 0)
}

func TestSubmitFailsWhenNotRun(t *testing.T) {
	p := NewPool(Config{Processes: 1})
	p.state = pkgpool.CLOSE

	_, err := p.Submit(&pkgpool.TaskEnvelope{Func: "noop"})
	assert.ErrorIs(t, err, pkgpool.ErrPoolClosed)
}

func TestSubmitFailsWhenBroken(t *testing.T) {
	p := NewPool(Config{Processes: 1})
	p.state = pkgpool.BROKEN

	_, err := p.Submit(&pkgpool.TaskEnvelope{Func: "noop"})
	assert.ErrorIs(t, err, pkgpool.ErrPoolBroken)
}

func TestSubmitEnqueuesAndFulfils(t *testing.T) {
	p := newTestPool(t)
	defer close(p.maintainStop)

	job, err := p.Submit(&pkgpool.TaskEnvelope{Func: "square", Arg: nil})
	require.NoError(t, err)

	// Drive the pipeline by hand: task-handler moves task_queue -> in_q,
	// simulate a worker by reading from in_q and writing a result to out_q.
	v := p.inQ.recv()
	task := v.(*pkgpool.TaskEnvelope)
	assert.Equal(t, job.inner.id, task.JobID)

	encoded, err := pkgpool.EncodeArg(42)
	require.NoError(t, err)
	p.outQ.send(&pkgpool.ResultEnvelope{JobID: task.JobID, ChunkID: 0, Success: true, Value: encoded})

	vals, err := (&Job{inner: job.inner}).Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, 42, vals[0])
}

func TestMaintainDetectsWorkerCrashAndTransitionsBroken(t *testing.T) {
	p := newTestPool(t)
	defer close(p.maintainStop)

	h1 := addFakeWorker(p, 100)
	_ = addFakeWorker(p, 101)

	job, err := p.Submit(&pkgpool.TaskEnvelope{Func: "square"})
	require.NoError(t, err)

	h1.crash(1) // non-zero exit: a genuine crash

	p.maintain()

	assert.Equal(t, pkgpool.BROKEN, p.State())

	_, err = (&Job{inner: job.inner}).Wait(context.Background())
	require.Error(t, err)
	var aborted *pkgpool.AbortedWorkerError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, pkgpool.ReasonWorkerDeath, aborted.Reason)
	assert.Equal(t, 1, aborted.ExitCode)
}

func TestMaintainIgnoresCleanRetirement(t *testing.T) {
	p := newTestPool(t)
	defer close(p.maintainStop)

	// Pin nproc at 0 so maintain()'s unconditional repopulateLocked() call
	// at the end of a clean pass has nothing to do and doesn't try to spawn
	// a real subprocess in this unit test.
	p.maintainMu.Lock()
	p.nproc = 0
	p.maintainMu.Unlock()

	h := addFakeWorker(p, 200)
	h.crash(0) // clean exit, e.g. maxtasksperchild retirement

	p.maintain()

	assert.Equal(t, pkgpool.RUN, p.State())
	// The retired worker should have been reaped silently, without tripping
	// crash cleanup.
	p.maintainMu.Lock()
	assert.Empty(t, p.workers)
	p.maintainMu.Unlock()
}

func TestMaintainSkipsWhenNotRun(t *testing.T) {
	p := NewPool(Config{Processes: 1})
	p.state = pkgpool.TERMINATE
	h := addFakeWorker(p, 1)
	h.crash(1)

	p.maintain()
	assert.Equal(t, pkgpool.TERMINATE, p.State()) // unchanged, not overwritten to BROKEN
}
