// ============================================================================
// Rpool Worker Subprocess Loop
// ============================================================================
//
// Package: internal/pool
// File: workerloop.go
// Function: The body of the "long-lived child process running an
// initializer then a task loop" (spec.md section 2, component B), and the
// self-re-exec bootstrap that turns the current binary into one of these
// without a separate compiled artifact.
//
// spec.md explicitly treats the worker's task-execution loop as an external
// collaborator (section 1, "out of scope"). This is still the simplest
// workable body for it: look up the task's registered Func by name, run it
// with a timeout, report success/failure. A real deployment can swap in
// whatever execution strategy it needs; nothing else in this package
// depends on the loop's internals, only on the envelopes it reads/writes.
//
// ============================================================================

package pool

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

const (
	workerEnvVar        = "RPOOL_WORKER"
	workerInitEnvVar    = "RPOOL_WORKER_INIT"
	workerInitArgEnvVar = "RPOOL_WORKER_INIT_ARG"
)

// MaybeRunWorker is the self-re-exec trigger: call it first thing in
// main(), before flag parsing or any other startup work. If the current
// process was spawned by a Pool as a worker, it runs the worker loop on
// stdin/stdout and never returns (the process exits when the loop ends).
// Otherwise it returns immediately and the program continues as the
// submitter/CLI.
func MaybeRunWorker() {
	if os.Getenv(workerEnvVar) != "1" {
		return
	}
	code := runWorkerLoop(os.Getenv(workerInitEnvVar), os.Getenv(workerInitArgEnvVar), os.Stdin, os.Stdout)
	os.Exit(code)
}

// runWorkerLoop implements component B's lifecycle: run the initializer
// once, then repeatedly read a TaskEnvelope, execute it, write back a
// ResultEnvelope, until the sentinel frame ends the stream.
func runWorkerLoop(initName, initArgB64 string, in *os.File, out *os.File) int {
	if initName != "" {
		initFn, ok := pkgpool.LookupInitializer(initName)
		if !ok {
			fmt.Fprintf(os.Stderr, "rpool worker: unknown initializer %q\n", initName)
			return 1
		}
		var arg any
		if initArgB64 != "" {
			raw, err := base64.StdEncoding.DecodeString(initArgB64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "rpool worker: decode initarg: %v\n", err)
				return 1
			}
			arg, err = pkgpool.DecodeArg(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "rpool worker: decode initarg: %v\n", err)
				return 1
			}
		}
		initFn(arg)
	}

	r := bufio.NewReader(in)
	for {
		var task pkgpool.TaskEnvelope
		ok, err := readFrame(r, &task)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rpool worker: read task: %v\n", err)
			return 1
		}
		if !ok {
			return 0 // sentinel: clean, voluntary exit
		}

		result := executeTask(&task)
		if err := writeFrame(out, result); err != nil {
			fmt.Fprintf(os.Stderr, "rpool worker: write result: %v\n", err)
			return 1
		}
	}
}

// executeTask runs one task under its declared timeout and packages the
// outcome as a ResultEnvelope, mirroring internal/worker/worker.go's
// execute() shape (timeout-bound call, success/failure captured uniformly).
func executeTask(task *pkgpool.TaskEnvelope) *pkgpool.ResultEnvelope {
	fn, ok := pkgpool.Lookup(task.Func)
	if !ok {
		return &pkgpool.ResultEnvelope{
			JobID: task.JobID, ChunkID: task.ChunkID,
			Success: false, ErrMsg: fmt.Sprintf("unregistered func %q", task.Func),
		}
	}

	arg, err := pkgpool.DecodeArg(task.Arg)
	if err != nil {
		return &pkgpool.ResultEnvelope{
			JobID: task.JobID, ChunkID: task.ChunkID,
			Success: false, ErrMsg: fmt.Sprintf("decode arg: %v", err),
		}
	}

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(arg)
		done <- outcome{v, err}
	}()

	var timeout <-chan time.Time
	if task.Timeout > 0 {
		timer := time.NewTimer(task.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case o := <-done:
		if o.err != nil {
			return &pkgpool.ResultEnvelope{
				JobID: task.JobID, ChunkID: task.ChunkID,
				Success: false, ErrMsg: o.err.Error(),
			}
		}
		val, err := pkgpool.EncodeArg(o.val)
		if err != nil {
			return &pkgpool.ResultEnvelope{
				JobID: task.JobID, ChunkID: task.ChunkID,
				Success: false, ErrMsg: fmt.Sprintf("encode result: %v", err),
			}
		}
		return &pkgpool.ResultEnvelope{
			JobID: task.JobID, ChunkID: task.ChunkID,
			Success: true, Value: val,
		}
	case <-timeout:
		return &pkgpool.ResultEnvelope{
			JobID: task.JobID, ChunkID: task.ChunkID,
			Success: false, ErrMsg: context.DeadlineExceeded.Error(),
		}
	}
}

func selfExecutable() (string, error) {
	return os.Executable()
}

func currentEnviron() []string {
	return os.Environ()
}
