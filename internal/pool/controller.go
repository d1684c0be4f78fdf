// ============================================================================
// Rpool Controller - Pool State Machine and Coordination
// ============================================================================
//
// Package: internal/pool
// File: controller.go
// Purpose: The core pool controller (spec.md section 4.1, component F):
// owns pool state, the worker set, the pending-job table, and the
// maintenance lock; runs the task-handler and result-handler loops; exposes
// Submit/Resize/Terminate.
//
// Architecture:
//   The controller is the "brain" coordinating four pieces:
//   - pendingTable: per-job outcome bookkeeping (pending.go)
//   - taskQueue / inQ / outQ: the three queues spec.md section 3 names
//   - workers: the live set of worker-process handles (worker.go)
//   - maintain loop: periodically reaps exited workers, detects crashes,
//     and repopulates up to nproc
//
// Core goroutines:
//   1. taskHandlerLoop - moves task_queue entries onto in_q
//   2. resultHandlerLoop - moves out_q results onto the pending table
//   3. maintainLoop - periodic maintenance pass (crash detection + repopulate)
//
// Concurrency safety:
//   - maintainMu guards workers, state, and nproc (spec.md section 5)
//   - pending has its own internal lock (pendingTable)
//   - role flags (taskHandlerRole, resultHandlerRole) are atomics consulted
//     at each loop's head, per spec.md section 9; taskHandlerAlive and
//     resultHandlerAlive record whether each loop is still running, and the
//     maintenance loop is stopped by closing maintainStop
//
// ============================================================================

package pool

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

var log = slog.Default()

// role values consulted at each helper loop's head, mirroring spec.md
// section 9's "per-thread atomic flag, published by the controller".
const (
	roleRun = iota
	roleTerminate
)

// Config carries the parameters spec.md section 6 names for get_pool.
type Config struct {
	Processes        int                // desired worker count; <=0 means logical CPU count
	Initializer      string             // registered initializer name, optional
	InitArgs         any                // value passed to the initializer
	MaxTasksPerChild int                // 0 means unlimited
	Stderr           *os.File           // worker subprocess stderr, defaults to os.Stderr when nil
	Metrics          ControllerMetrics // optional metrics sink; nil-safe no-op default
}

// ControllerMetrics is the observation surface the controller calls into.
// Implemented by internal/metrics.Collector; kept as an interface here so
// this package has no hard dependency on the prometheus wiring.
type ControllerMetrics interface {
	ObserveSubmit()
	ObserveComplete()
	ObserveAborted(reason string)
	ObserveWorkerCrash()
	ObserveResize()
	SetState(s pkgpool.State)
	ObserveLatency(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSubmit() {}
func (noopMetrics) ObserveComplete() {}
func (noopMetrics) ObserveAborted(string) {}
func (noopMetrics) ObserveWorkerCrash() {}
func (noopMetrics) ObserveResize() {}
func (noopMetrics) SetState(pkgpool.State) {}
func (noopMetrics) ObserveLatency(time.Duration) {}

// workerEntry pairs a handle with its shepherd's completion signal, so the
// maintenance pass can tell a clean shepherd exit (worker retired itself,
// e.g. maxtasksperchild) from a crash (Join reports a non-zero exit code).
//
// handle is the WorkerHandle interface, not the concrete *processWorker,
// purely so tests can drive maintain()/crash-cleanup/shutdown logic against
// a fake handle without spawning a real OS subprocess; production code only
// ever constructs these through repopulateLocked, which always supplies a
// *processWorker.
type workerEntry struct {
	handle     WorkerHandle
	shepherdWG *sync.WaitGroup
}

// Pool is the controller (spec.md section 3/4.1): state, nproc, workers,
// pending, task_queue, in_q/out_q, and the maintenance lock.
type Pool struct {
	cfg Config

	maintainMu sync.Mutex // guards state, nproc, workers
	state      pkgpool.State
	nproc      int
	workers    []*workerEntry

	pending *pendingTable

	taskQueue *queue // submitter -> task-handler
	inQ       *queue // task-handler -> workers (shared across shepherds)
	outQ      *queue // workers -> result-handler (shared across shepherds)

	nextJobID atomic.Uint64

	taskHandlerRole    atomic.Int32
	resultHandlerRole  atomic.Int32
	taskHandlerAlive   atomic.Bool
	resultHandlerAlive atomic.Bool

	startOnce    sync.Once
	shutdownOnce sync.Once

	loopWg sync.WaitGroup

	maintainStop chan struct{}
	maintainDone chan struct{}

	metrics ControllerMetrics
}

// NewPool constructs a pool in state RUN with no workers yet; Start spawns
// the worker set and the helper loops. Mirrors reusable_pool.py's
// _ReusablePool.__init__ followed by an explicit start, generalized from
// the teacher's NewController/pool.Start split.
func NewPool(cfg Config) *Pool {
	if cfg.Processes <= 0 {
		cfg.Processes = runtime.NumCPU()
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	p := &Pool{
		cfg:          cfg,
		state:        pkgpool.RUN,
		nproc:        cfg.Processes,
		pending:      newPendingTable(),
		taskQueue:    newQueue(1024),
		inQ:          newQueue(1024),
		outQ:         newQueue(1024),
		maintainStop: make(chan struct{}),
		maintainDone: make(chan struct{}),
		metrics:      metrics,
	}
	p.metrics.SetState(pkgpool.RUN)
	return p
}

// Start spawns the initial worker set and the task-handler, result-handler,
// and maintenance loops. Idempotent: only the first call does anything.
func (p *Pool) Start() error {
	var startErr error
	p.startOnce.Do(func() {
		p.maintainMu.Lock()
		startErr = p.repopulateLocked()
		p.maintainMu.Unlock()
		if startErr != nil {
			return
		}

		p.taskHandlerAlive.Store(true)
		p.resultHandlerAlive.Store(true)

		p.loopWg.Add(3)
		go p.taskHandlerLoop()
		go p.resultHandlerLoop()
		go p.maintainLoop()
	})
	return startErr
}

// encodedInitArg is computed once, lazily, so NewPool/Start don't have to
// return an encode error for the common case of no initargs.
func (p *Pool) encodedInitArg() ([]byte, error) {
	if p.cfg.InitArgs == nil {
		return nil, nil
	}
	return pkgpool.EncodeArg(p.cfg.InitArgs)
}

// repopulateLocked spawns workers until len(workers) == nproc. Caller must
// hold maintainMu. Grounded on spec.md section 4.2's maintenance pass and
// the teacher's worker_pool.go goroutine-per-slot spawn loop.
func (p *Pool) repopulateLocked() error {
	initArg, err := p.encodedInitArg()
	if err != nil {
		return fmt.Errorf("pool: encode initargs: %w", err)
	}
	for len(p.workers) < p.nproc {
		w, err := spawnProcessWorker(WorkerSpawnConfig{
			Initializer:    p.cfg.Initializer,
			InitializerArg: initArg,
			Stderr:         p.cfg.Stderr,
		})
		if err != nil {
			return fmt.Errorf("pool: spawn worker: %w", err)
		}
		entry := &workerEntry{handle: w, shepherdWG: &sync.WaitGroup{}}
		entry.shepherdWG.Add(1)
		go func() {
			shepherd(w, p.inQ, p.outQ, p.cfg.MaxTasksPerChild, entry.shepherdWG.Done)
		}()
		// Reap this process in the background: cmd.Wait blocks until exit,
		// which is exactly what populates ExitCode()/IsAlive() for the
		// maintenance pass to observe a crash or clean retirement without
		// itself blocking.
		go w.Join()
		p.workers = append(p.workers, entry)
		log.Info("pool: spawned worker", "pid", w.Pid())
	}
	return nil
}

// Submit enqueues task and returns a job handle tracking its single result
// slot. Fails with ErrPoolBroken when state is BROKEN and with ErrPoolClosed
// for any other state but RUN, matching spec.md section 4.1's POOL_CLOSED
// contract.
func (p *Pool) Submit(task *pkgpool.TaskEnvelope) (*Job, error) {
	return p.submit(task, 1)
}

// SubmitChunked enqueues length separately-dispatched task envelopes
// belonging to the same job-id as a chunked (map-style) job, returning one
// job handle covering all of them.
func (p *Pool) SubmitChunked(tasks []*pkgpool.TaskEnvelope) (*Job, error) {
	return p.submit(tasks[0], len(tasks), tasks...)
}

func (p *Pool) submit(first *pkgpool.TaskEnvelope, length int, rest ...*pkgpool.TaskEnvelope) (*Job, error) {
	p.maintainMu.Lock()
	state := p.state
	p.maintainMu.Unlock()

	if state == pkgpool.BROKEN {
		return nil, pkgpool.ErrPoolBroken
	}
	if state != pkgpool.RUN {
		return nil, pkgpool.ErrPoolClosed
	}

	id := pkgpool.JobID(p.nextJobID.Add(1))
	job := p.pending.insert(id, length)

	envelopes := rest
	if len(envelopes) == 0 {
		envelopes = []*pkgpool.TaskEnvelope{first}
	}
	for i, t := range envelopes {
		t.JobID = id
		t.ChunkID = i
		p.taskQueue.send(t)
	}
	p.metrics.ObserveSubmit()
	return &Job{inner: job}, nil
}

// taskHandlerLoop is component D: moves task_queue entries to in_q until
// the sentinel, matching spec.md section 4.2 step 1's expectation that a
// task_queue sentinel causes this loop to exit on its next pull.
func (p *Pool) taskHandlerLoop() {
	defer p.loopWg.Done()
	defer p.taskHandlerAlive.Store(false)

	for {
		if p.taskHandlerRole.Load() == roleTerminate {
			return
		}
		v := p.taskQueue.recv()
		if v == nil {
			return
		}
		task := v.(*pkgpool.TaskEnvelope)
		p.inQ.send(task)
	}
}

// resultHandlerLoop is component E: reads out_q and fulfils the matching
// pending-job record, until the sentinel.
func (p *Pool) resultHandlerLoop() {
	defer p.loopWg.Done()
	defer p.resultHandlerAlive.Store(false)

	for {
		if p.resultHandlerRole.Load() == roleTerminate {
			return
		}
		v := p.outQ.recv()
		if v == nil {
			return
		}
		result := v.(*pkgpool.ResultEnvelope)
		o := outcome{success: result.Success, value: result.Value}
		if !result.Success {
			o.err = fmt.Errorf("%s", result.ErrMsg)
		}
		terminal, submittedAt := p.pending.fulfil(result.JobID, result.ChunkID, o)
		if result.Success {
			p.metrics.ObserveComplete()
		}
		if terminal {
			p.metrics.ObserveLatency(time.Since(submittedAt))
		}
	}
}

// maintainLoop runs the periodic maintenance pass (spec.md section 4.2)
// until Terminate stops it.
func (p *Pool) maintainLoop() {
	defer p.loopWg.Done()
	defer close(p.maintainDone)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.maintainStop:
			return
		case <-ticker.C:
			p.maintain()
		}
	}
}

// maintain is the maintenance pass: reap exited workers, detect crashes,
// repopulate. Grounded directly on spec.md section 4.2's numbered rules.
func (p *Pool) maintain() {
	p.maintainMu.Lock()
	defer p.maintainMu.Unlock()

	if p.state != pkgpool.RUN {
		return
	}

	live := p.workers[:0:0]
	crashCode := 0
	crashPid := -1
	for _, entry := range p.workers {
		code, exited := entry.handle.ExitCode()
		if !exited {
			live = append(live, entry)
			continue
		}
		if code == 0 {
			// Clean retirement (e.g. maxtasksperchild): drop silently, the
			// next pass below repopulates.
			continue
		}
		// Non-zero/negative exit: crash. Keep scanning so every still-alive
		// worker ends up in live and gets Terminate()'d by crash cleanup
		// below, not just the ones seen before this entry.
		if crashPid == -1 {
			crashPid = entry.handle.Pid()
			crashCode = code
		}
	}
	p.workers = live

	if crashPid != -1 {
		log.Error("pool: worker crashed", "pid", crashPid, "exitcode", crashCode)
		p.metrics.ObserveWorkerCrash()
		p.cleanUpCrashLocked(pkgpool.ReasonWorkerDeath, crashCode)
		return
	}

	if !p.taskHandlerAlive.Load() {
		p.cleanUpCrashLocked(pkgpool.ReasonTaskHandlerCrashed, 0)
		return
	}
	if !p.resultHandlerAlive.Load() {
		p.cleanUpCrashLocked(pkgpool.ReasonResultHandlerCrashed, 0)
		return
	}

	if err := p.repopulateLocked(); err != nil {
		log.Error("pool: repopulate failed", "error", err)
	}
}

// State returns the pool's current lifecycle state.
func (p *Pool) State() pkgpool.State {
	p.maintainMu.Lock()
	defer p.maintainMu.Unlock()
	return p.state
}

// WorkerCount returns the current live worker count.
func (p *Pool) WorkerCount() int {
	p.maintainMu.Lock()
	defer p.maintainMu.Unlock()
	return len(p.workers)
}

// PendingCount returns the number of pending jobs not yet terminal.
func (p *Pool) PendingCount() int {
	return p.pending.len()
}

// Close transitions RUN -> CLOSE: no new submissions will be processed past
// what's already queued, but Terminate is still required to actually tear
// the pool down (spec.md section 4.1's state diagram).
func (p *Pool) Close() error {
	p.maintainMu.Lock()
	defer p.maintainMu.Unlock()
	if p.state == pkgpool.BROKEN {
		return pkgpool.ErrPoolBroken
	}
	if p.state == pkgpool.TERMINATE {
		return pkgpool.ErrPoolClosed
	}
	p.state = pkgpool.CLOSE
	p.metrics.SetState(pkgpool.CLOSE)
	return nil
}

// Join blocks until the maintenance loop has stopped, i.e. after Terminate.
func (p *Pool) Join() {
	<-p.maintainDone
	p.loopWg.Wait()
}
