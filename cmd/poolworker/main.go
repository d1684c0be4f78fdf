// ============================================================================
// Rpool Demo Worker/Submitter - Main Entry Point
// ============================================================================
//
// File: cmd/poolworker/main.go
// Purpose: A minimal, self-contained program demonstrating the self-re-exec
// pattern: the same compiled binary acts as the submitter (registers a
// function, gets a pool, maps it over a slice) and, when re-exec'd by the
// pool, as a worker subprocess (pool.MaybeRunWorker runs the task loop and
// never returns).
//
// Usage:
//   go run ./cmd/poolworker            # runs the S1-style normal-map demo
//
// Any program that wants its own registered functions to run inside pool
// workers should follow this same shape: call pool.MaybeRunWorker() first
// in main(), register Funcs via pkgpool.Register in an init(), then build
// and use a pool normally.
//
// ============================================================================

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/tomMoral/Rpool/internal/pool"
	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
	"github.com/tomMoral/Rpool/pkg/poolapi"
)

func init() {
	pkgpool.Register("square", func(arg any) (any, error) {
		n, ok := arg.(int)
		if !ok {
			return nil, fmt.Errorf("square: expected int, got %T", arg)
		}
		return n * n, nil
	})
}

func main() {
	// If this process was re-exec'd as a worker, run the worker loop and
	// never reach the code below.
	pool.MaybeRunWorker()

	ctx := context.Background()
	p, err := poolapi.GetPool(ctx, poolapi.Options{Processes: 4})
	if err != nil {
		log.Fatalf("get pool: %v", err)
	}
	defer func() {
		p.Terminate()
		p.Join()
	}()

	args := make([]any, 101)
	for i := range args {
		args[i] = i
	}

	results, err := p.Map(ctx, "square", args)
	if err != nil {
		log.Fatalf("map: %v", err)
	}

	fmt.Printf("pool state=%s workers=%d\n", p.State(), p.WorkerCount())
	fmt.Printf("squares[0..10]=%v\n", results[:11])
}
