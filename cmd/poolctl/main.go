// ============================================================================
// Rpool CLI - Main Entry Point
// ============================================================================
//
// File: cmd/poolctl/main.go
// Purpose: Application entry point and CLI initialization
//
// Responsibilities:
//   1. Self-re-exec trigger - act as a worker subprocess when spawned by a
//      pool, before anything else runs (pool.MaybeRunWorker)
//   2. Panic recovery - catch unexpected panics gracefully
//   3. CLI setup - build and configure the Cobra command interface
//
// Usage:
//   ./poolctl --help      # Show help
//   ./poolctl run         # Start a pool and hold it open
//   ./poolctl status      # Show pool status
//   ./poolctl resize --n 4
//   ./poolctl terminate
//
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/tomMoral/Rpool/internal/cli"
	"github.com/tomMoral/Rpool/internal/pool"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// If this process was re-exec'd as a worker, run the worker loop and
	// never reach the CLI below.
	pool.MaybeRunWorker()

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
