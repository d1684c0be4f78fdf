// ============================================================================
// Rpool Exported Job Handle
// ============================================================================
//
// Package: internal/pool
// File: job.go
// Function: Job wraps the unexported pendingJob record so a submitter-facing
// package (pkg/poolapi) can wait on it and decode its results without
// reaching into this package's internals.
//
// ============================================================================

package pool

import (
	"context"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

// Job is the public handle for a submitted task or chunked map-style job.
type Job struct {
	inner *pendingJob
}

// Ready reports whether every chunk has already been fulfilled.
func (j *Job) Ready() bool {
	select {
	case <-j.inner.done:
		return true
	default:
		return false
	}
}

// Wait blocks until every chunk is fulfilled (or ctx is done) and decodes
// each chunk's value in order, surfacing the first error encountered.
func (j *Job) Wait(ctx context.Context) ([]any, error) {
	select {
	case <-j.inner.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make([]any, j.inner.length)
	for i, o := range j.inner.slots {
		if o == nil {
			continue // should not happen once done is closed
		}
		if !o.success {
			return nil, o.err
		}
		v, err := pkgpool.DecodeArg(o.value)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
