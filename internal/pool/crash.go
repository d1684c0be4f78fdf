// ============================================================================
// Rpool Crash-Cleanup Protocol
// ============================================================================
//
// Package: internal/pool
// File: crash.go
// Function: The crash-cleanup protocol (spec.md section 4.2), triggered by
// the maintenance pass on worker death or helper-thread death, transitioning
// the pool to BROKEN with every pending job uniformly failed.
//
// Grounded directly on _examples/original_source/backend/reusable_pool.py's
// _clean_up_crash: the eight numbered steps below are that function's steps,
// kept in the same order since the ordering itself is part of the contract
// (e.g. the out-queue write lock must be neutralized before the result-
// handler sentinel is pushed, or the push could deadlock against a dead
// worker's writer goroutine).
//
// ============================================================================

package pool

import (
	"time"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

// cleanUpCrashLocked runs the crash-cleanup protocol. Caller must already
// hold maintainMu (the maintenance pass calls this while holding it). This
// is idempotent only in the sense that it is called at most once per crash
// detection — once state is BROKEN, maintain() returns early and never
// calls this again.
func (p *Pool) cleanUpCrashLocked(reason string, exitcode int) {
	// 1. Sentinel on task_queue so the task-handler exits on its next pull.
	p.taskQueue.send(nil)

	// 2. Mark the task-handler's role as TERMINATE (advisory; the sentinel
	// above is what actually wakes a blocked recv).
	p.taskHandlerRole.Store(roleTerminate)

	// 3. Terminate every worker via its OS-level terminate.
	for _, entry := range p.workers {
		entry.handle.Terminate()
	}

	// 4. Bulk-fail every pending job with AbortedWorkerError, iterating
	// fulfil until every chunk of every job is terminal.
	submittedAts := p.pending.bulkFail(&pkgpool.AbortedWorkerError{Reason: reason, ExitCode: exitcode})
	for _, submittedAt := range submittedAts {
		p.metrics.ObserveAborted(reason)
		p.metrics.ObserveLatency(time.Since(submittedAt))
	}

	// 5. Mark the result-handler's role as TERMINATE.
	p.resultHandlerRole.Store(roleTerminate)

	// 6. Neutralize the out-queue write lock: it may be permanently held by
	// a dead worker's shepherd goroutine, and every legitimate writer is
	// being torn down in this same pass, so a normal locked push here could
	// deadlock forever.
	//
	// 7. Push the result-handler's sentinel via the now-lock-free path.
	p.outQ.forceSentinel()

	// 8. The only state write in this routine.
	p.state = pkgpool.BROKEN
	p.metrics.SetState(pkgpool.BROKEN)

	log.Error("pool: crash cleanup complete, pool is BROKEN", "reason", reason, "exitcode", exitcode)
}
