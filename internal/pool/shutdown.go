// ============================================================================
// Rpool Sentinel-Based Shutdown
// ============================================================================
//
// Package: internal/pool
// File: shutdown.go
// Function: Terminate() (spec.md section 4.1/4.4): from RUN/CLOSE runs the
// full sentinel-based shutdown protocol and transitions to TERMINATE; from
// BROKEN runs the bounded drain-and-wait instead (section 4.2's last
// paragraph) since a BROKEN pool has already had its workers torn down and
// any stronger action there risks a double-free of the same resources.
//
// Grounded on reusable_pool.py's _terminate_pool / _help_stuff_finish for
// protocol order, and on the teacher's Controller.Stop() "Shutdown Order
// Design Explanation" comment block (internal/controller/controller.go) for
// how to narrate a tricky shutdown ordering in Go doc comments.
//
// ============================================================================

package pool

import (
	"fmt"
	"time"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

const (
	helpStuffFinishTimeout = 100 * time.Millisecond
	brokenDrainPolls       = 1000
	brokenDrainInterval    = 1 * time.Millisecond
)

// Terminate runs the shutdown protocol exactly once per pool (spec.md
// section 4.4's "guaranteed once-only" requirement), dispatching to the
// normal or BROKEN path depending on observed state.
func (p *Pool) Terminate() {
	p.shutdownOnce.Do(func() {
		p.maintainMu.Lock()
		state := p.state
		p.maintainMu.Unlock()

		if state == pkgpool.BROKEN {
			// cleanUpCrashLocked already tore down the workers and both
			// helper loops; only the maintenance ticker is still running.
			close(p.maintainStop)
			<-p.maintainDone
			p.brokenDrainAndWait()
			return
		}
		p.terminatePool()
	})
}

// terminatePool is the normal (non-BROKEN) shutdown path. Steps 1-9 are
// numbered to match spec.md section 4.4; step 0 comes first.
func (p *Pool) terminatePool() {
	// 0. Move state off RUN under maintainMu before anything else. close()ing
	// maintainStop does not stop maintainLoop synchronously: its select
	// (controller.go) can still pick the ticker case on its next iteration,
	// since a closed channel and a ready timer are chosen at random when both
	// are selectable. By then step 1's task_queue sentinel may have already
	// made taskHandlerLoop exit and clear taskHandlerAlive, and a maintain()
	// pass that still sees state == RUN would read that as a crash and call
	// cleanUpCrashLocked, clobbering this shutdown with BROKEN — the same
	// race the teacher's dispatchLoop guards against by re-checking stopCh
	// after the ticker fires. maintain() already no-ops on any non-RUN state,
	// so parking in CLOSE here (the state diagram's own pre-terminate step)
	// closes the window without needing a new state or flag.
	p.maintainMu.Lock()
	if p.state == pkgpool.RUN {
		p.state = pkgpool.CLOSE
		p.metrics.SetState(pkgpool.CLOSE)
	}
	p.maintainMu.Unlock()

	// 1. Mark worker-handler and task-handler roles as TERMINATE, and push a
	// task_queue sentinel so a task-handler blocked in recv() wakes up and
	// observes it instead of waiting forever for a submission that will
	// never come.
	close(p.maintainStop)
	p.taskHandlerRole.Store(roleTerminate)
	p.taskQueue.send(nil)

	// 2. Help stuff finish: attempt the read lock on in_q and out_q with a
	// short timeout, then drain whatever is readable regardless of whether
	// the lock was acquired, while the task-handler is still alive. This
	// avoids racing a healthy reader when the lock is free, and still makes
	// progress when the lock is permanently held by a dead reader.
	p.helpStuffFinish(p.inQ)
	p.helpStuffFinish(p.outQ)

	// 3. Assert: result-handler alive OR pending empty. A violation here
	// means the caller is terminating a pool whose result-handler already
	// died without going through crash-cleanup, which should not happen;
	// log it rather than hang forever.
	if !p.resultHandlerAlive.Load() && p.pending.len() > 0 {
		log.Error("pool: terminate: result handler dead with pending work outstanding")
	}

	// 4. Mark result-handler's role TERMINATE; push the out_q sentinel.
	p.resultHandlerRole.Store(roleTerminate)
	p.outQ.send(nil)

	// 5. Join the maintenance loop (the "worker-handler"). Terminate is never
	// called from inside maintain(), so there is no self-join case to skip.
	<-p.maintainDone

	// 6. Terminate any worker still alive.
	p.maintainMu.Lock()
	for _, entry := range p.workers {
		if entry.handle.IsAlive() {
			entry.handle.Terminate()
		}
	}
	workers := append([]*workerEntry(nil), p.workers...)
	p.state = pkgpool.TERMINATE
	p.metrics.SetState(pkgpool.TERMINATE)
	p.maintainMu.Unlock()

	// 7. Join task-handler, then result-handler: both loops share p.loopWg
	// along with the maintenance loop already joined in step 5.
	p.loopWg.Wait()

	// 8. Fulfil every remaining pending job with TerminatedPoolError,
	// following the same chunked-iteration rule as crash-cleanup.
	submittedAts := p.pending.bulkFail(&pkgpool.TerminatedPoolError{})
	for _, submittedAt := range submittedAts {
		p.metrics.ObserveAborted("terminated")
		p.metrics.ObserveLatency(time.Since(submittedAt))
	}

	// 9. Join all worker processes still alive.
	for _, entry := range workers {
		entry.handle.Join()
		entry.shepherdWG.Wait()
	}

	log.Info("pool: terminate complete")
}

// helpStuffFinish implements spec.md section 4.4 step 2 for one queue.
func (p *Pool) helpStuffFinish(q *queue) {
	release, _ := q.acquireReadLock(helpStuffFinishTimeout)
	defer release()
	q.drainReadable()
}

// brokenDrainAndWait is the bounded drain-and-wait for Terminate() called on
// an already-BROKEN pool (spec.md section 4.2's last paragraph): poll up to
// brokenDrainPolls times that every worker has exited and both helper loops
// report not-alive; if the deadline passes with any alive entity, emit a
// diagnostic and return without forcing further action, since any stronger
// action after BROKEN risks a double-free of resources crash-cleanup
// already tore down.
func (p *Pool) brokenDrainAndWait() {
	for i := 0; i < brokenDrainPolls; i++ {
		if p.brokenDrainSatisfied() {
			log.Info("pool: broken-drain complete")
			return
		}
		time.Sleep(brokenDrainInterval)
	}

	p.maintainMu.Lock()
	stragglers := make([]string, 0)
	for _, entry := range p.workers {
		if entry.handle.IsAlive() {
			stragglers = append(stragglers, fmt.Sprintf("pid=%d", entry.handle.Pid()))
		}
	}
	p.maintainMu.Unlock()
	if p.taskHandlerAlive.Load() {
		stragglers = append(stragglers, "task-handler")
	}
	if p.resultHandlerAlive.Load() {
		stragglers = append(stragglers, "result-handler")
	}
	log.Error("pool: broken-drain deadline exceeded, stragglers remain", "stragglers", stragglers)
}

func (p *Pool) brokenDrainSatisfied() bool {
	if p.taskHandlerAlive.Load() || p.resultHandlerAlive.Load() {
		return false
	}
	p.maintainMu.Lock()
	defer p.maintainMu.Unlock()
	for _, entry := range p.workers {
		if entry.handle.IsAlive() {
			return false
		}
	}
	return true
}
