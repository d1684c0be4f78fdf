// ============================================================================
// Rpool Submitter API
// ============================================================================
//
// Package: pkg/poolapi
// File: poolapi.go
// Purpose: The public submission surface spec.md section 6 delegates to an
// external collaborator: GetPool, apply/apply_async/map/map_async/imap,
// close/join/terminate, resize. internal/pool implements the core state
// machine this package is a thin, caller-friendly wrapper over.
//
// Mirrors the shape of internal/cli's runSystem/runControllerNode (a small
// public surface over a core component) and internal/controller's
// EnqueueJobs/GetStatus (plain methods returning plain values, no RPC
// envelope) — generalized from "submit jobs over gRPC or in-process" to
// "submit Go function calls to a process pool".
//
// ============================================================================

package poolapi

import (
	"context"
	"fmt"
	"time"

	"github.com/tomMoral/Rpool/internal/pool"
	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

// Options mirrors spec.md section 6's get_pool(processes, initializer,
// initargs, maxtasksperchild, context).
type Options struct {
	Processes        int
	Initializer      string
	InitArgs         any
	MaxTasksPerChild int
	Metrics          pool.ControllerMetrics
}

// Pool is the submitter-facing handle returned by GetPool.
type Pool struct {
	core *pool.Pool
}

// GetPool returns the process-wide (or, with pool.WithScope(ctx, ...),
// scoped) singleton pool, constructing or replacing it as needed per
// spec.md section 4.5.
func GetPool(ctx context.Context, opts Options) (*Pool, error) {
	core, err := pool.GetPool(ctx, pool.Config{
		Processes:        opts.Processes,
		Initializer:      opts.Initializer,
		InitArgs:         opts.InitArgs,
		MaxTasksPerChild: opts.MaxTasksPerChild,
		Metrics:          opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Pool{core: core}, nil
}

// AsyncResult is the future a caller polls or blocks on, backed by one
// job handle. Declared out of scope for the core's design (spec.md section
// 1), implemented here as the thinnest wrapper that satisfies it.
type AsyncResult struct {
	job    *pool.Job
	length int
}

// Get blocks for every chunk's result, in order, surfacing the first error.
func (r *AsyncResult) Get(ctx context.Context) ([]any, error) {
	if r.job == nil {
		return nil, nil
	}
	return r.job.Wait(ctx)
}

// Ready reports whether every chunk has already been fulfilled.
func (r *AsyncResult) Ready() bool {
	return r.job == nil || r.job.Ready()
}

// Apply submits fn(arg) for execution by name (fn must already be
// registered via pkgpool.Register in both this process and the worker
// subprocess) and blocks for its single result.
func (p *Pool) Apply(ctx context.Context, fn string, arg any) (any, error) {
	r, err := p.ApplyAsync(fn, arg, 0)
	if err != nil {
		return nil, err
	}
	vals, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}

// ApplyAsync submits fn(arg) without blocking, returning a future. timeout
// of 0 means no per-task timeout (the worker loop runs fn to completion).
func (p *Pool) ApplyAsync(fn string, arg any, timeout time.Duration) (*AsyncResult, error) {
	encoded, err := pkgpool.EncodeArg(arg)
	if err != nil {
		return nil, fmt.Errorf("poolapi: encode argument: %w", err)
	}
	job, err := p.core.Submit(&pkgpool.TaskEnvelope{Func: fn, Arg: encoded, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return &AsyncResult{job: job, length: 1}, nil
}

// Map applies fn to every element of args and returns results in input
// order, blocking until every chunk is fulfilled.
func (p *Pool) Map(ctx context.Context, fn string, args []any) ([]any, error) {
	r, err := p.MapAsync(fn, args, 0)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx)
}

// MapAsync submits one chunk per element of args as a single chunked job
// (spec.md's pending-job record with length == len(args)) and returns a
// future resolving to all results in order once every chunk arrives.
func (p *Pool) MapAsync(fn string, args []any, timeout time.Duration) (*AsyncResult, error) {
	if len(args) == 0 {
		return &AsyncResult{job: nil, length: 0}, nil
	}
	tasks := make([]*pkgpool.TaskEnvelope, len(args))
	for i, a := range args {
		encoded, err := pkgpool.EncodeArg(a)
		if err != nil {
			return nil, fmt.Errorf("poolapi: encode argument %d: %w", i, err)
		}
		tasks[i] = &pkgpool.TaskEnvelope{Func: fn, Arg: encoded, Timeout: timeout}
	}
	job, err := p.core.SubmitChunked(tasks)
	if err != nil {
		return nil, err
	}
	return &AsyncResult{job: job, length: len(args)}, nil
}

// Imap returns a channel yielding each chunk's result in chunk order,
// closing the channel once every chunk (or a terminal error) has been
// delivered. Nothing is sent until every chunk of the job has been
// fulfilled: results are not streamed one by one as individual chunks
// arrive. On failure the channel carries a single ImapResult with Err set.
func (p *Pool) Imap(ctx context.Context, fn string, args []any) (<-chan ImapResult, error) {
	r, err := p.MapAsync(fn, args, 0)
	if err != nil {
		return nil, err
	}
	out := make(chan ImapResult, r.length)
	go func() {
		defer close(out)
		vals, err := r.Get(ctx)
		if err != nil {
			out <- ImapResult{Err: err}
			return
		}
		for _, v := range vals {
			out <- ImapResult{Value: v}
		}
	}()
	return out, nil
}

// ImapResult is one element of an Imap stream.
type ImapResult struct {
	Value any
	Err   error
}

// Close transitions the pool to CLOSE (spec.md section 4.1): no more
// submissions are accepted past what is already queued.
func (p *Pool) Close() error {
	return p.core.Close()
}

// Join blocks until the pool has fully terminated (after Terminate).
func (p *Pool) Join() {
	p.core.Join()
}

// Terminate runs the shutdown (or BROKEN drain) protocol exactly once.
func (p *Pool) Terminate() {
	p.core.Terminate()
}

// Resize adjusts the worker count per spec.md section 4.3.
func (p *Pool) Resize(ctx context.Context, n int) error {
	return p.core.Resize(ctx, n)
}

// State reports the pool's current lifecycle state.
func (p *Pool) State() pkgpool.State {
	return p.core.State()
}

// WorkerCount reports the current live worker count.
func (p *Pool) WorkerCount() int {
	return p.core.WorkerCount()
}
