// ============================================================================
// Rpool Resize
// ============================================================================
//
// Package: internal/pool
// File: resize.go
// Function: Resize(ctx, n) per spec.md section 4.3: drain pending work,
// adjust nproc, shrink via in_q sentinels or let the maintenance pass grow.
//
// Deviates from the Python original in one place, recorded as an Open
// Question resolution in SPEC_FULL.md: the drain spin takes a
// context.Context so a caller can bound it, since an unbounded spin has no
// idiomatic place in a Go program that might be driven from a CLI command
// with its own deadline.
//
// ============================================================================

package pool

import (
	"context"
	"runtime"
	"time"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

const resizeDrainPoll = 100 * time.Millisecond

// Resize implements spec.md section 4.3's seven steps. ctx bounds the drain
// spin in step 4 and the convergence loop in step 7; a canceled/expired ctx
// aborts the resize and returns ctx.Err(). Canceled during the drain spin,
// it leaves nproc and the worker set unchanged; canceled during the
// convergence loop, nproc has already been set to n and any shrink
// sentinels have already been sent. Resize on a BROKEN pool fails with
// ErrPoolBroken.
//
// n == 0 means "unspecified", mirroring get_pool's processes=None and
// defaulting to the logical CPU count (step 1); n < 0 is a caller mistake
// and fails fast with ErrInvalidArgument (step 2), matching spec.md section
// 4.3 rather than silently coercing it to a default.
func (p *Pool) Resize(ctx context.Context, n int) error {
	if n < 0 {
		return pkgpool.ErrInvalidArgument
	}
	if n == 0 {
		n = runtime.NumCPU()
	}

	p.maintainMu.Lock()
	current := p.nproc
	state := p.state
	p.maintainMu.Unlock()
	if state == pkgpool.BROKEN {
		return pkgpool.ErrPoolBroken
	}
	if n == current {
		return nil
	}

	if p.pending.len() > 0 {
		log.Warn("pool: resize requested while jobs are pending; draining before resizing", "pending", p.pending.len())
	}
	for p.pending.len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resizeDrainPoll):
		}
	}

	p.maintainMu.Lock()
	p.nproc = n
	surplus := len(p.workers) - n
	p.maintainMu.Unlock()

	if surplus > 0 {
		for i := 0; i < surplus; i++ {
			p.inQ.send(nil)
		}
	}

	for {
		p.maintainMu.Lock()
		count := len(p.workers)
		p.maintainMu.Unlock()
		if count == n {
			break
		}
		p.maintain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resizeDrainPoll):
		}
	}

	p.metrics.ObserveResize()
	log.Info("pool: resize complete", "nproc", n)
	return nil
}
