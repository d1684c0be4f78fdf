// ============================================================================
// Rpool Pending-Job Table
// ============================================================================
//
// Package: internal/pool
// File: pending.go
// Function: Tracks pending-job records between submission and final
// fulfilment.
//
// Adapted from internal/jobmanager/job_manager.go's hybrid map design: a
// single map as the source of truth, guarded by one mutex, with the
// persistence-oriented pending/in-flight/completed/dead status indexes
// removed — this pool never persists pending jobs across a restart, so all
// that survives is the insert / fulfil / bulk-fail lifecycle spec.md names.
//
// ============================================================================

package pool

import (
	"sync"
	"time"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

// outcome is one fulfilled chunk: success flag plus opaque gob-encoded value
// (on success) or error (on failure).
type outcome struct {
	success bool
	value   []byte
	err     error
}

// pendingJob is the pending-job record from spec.md section 3. A
// single-value job is represented as a chunked job of length 1 — this
// collapses the spec's Single/Chunked tagged-variant suggestion into one
// shape, since the two cases need identical fulfil/terminal logic.
type pendingJob struct {
	id          pkgpool.JobID
	length      int
	index       int // number of leading chunks fulfilled, in order
	slots       []*outcome
	done        chan struct{} // closed when index == length
	submittedAt time.Time     // stamped at insert, read back for ObserveLatency
}

func newPendingJob(id pkgpool.JobID, length int) *pendingJob {
	if length < 1 {
		length = 1
	}
	return &pendingJob{
		id:          id,
		length:      length,
		slots:       make([]*outcome, length),
		done:        make(chan struct{}),
		submittedAt: time.Now(),
	}
}

// terminal reports whether every chunk has been fulfilled.
func (j *pendingJob) terminal() bool {
	return j.index == j.length
}

// fulfil sets the i-th chunk's outcome. Chunks may arrive out of order;
// index only advances past the leading run of filled slots, so a job is
// terminal exactly when every slot 0..length-1 has an outcome, and the
// "done" signal fires on the transition into that state.
func (j *pendingJob) fulfil(i int, o outcome) {
	if i < 0 || i >= j.length || j.slots[i] != nil {
		return
	}
	cp := o
	j.slots[i] = &cp
	for j.index < j.length && j.slots[j.index] != nil {
		j.index++
	}
	if j.terminal() {
		close(j.done)
	}
}

// pendingTable is the controller's "pending" map (spec.md section 3),
// concurrency-safe for insert (submit), fulfil (result-handler), and
// bulk-fail (crash-cleanup / shutdown).
type pendingTable struct {
	mu    sync.Mutex
	byJob map[pkgpool.JobID]*pendingJob
}

func newPendingTable() *pendingTable {
	return &pendingTable{byJob: make(map[pkgpool.JobID]*pendingJob)}
}

// insert registers a new pending job of the given chunk length. Invariant 4
// (spec.md section 3): the record exists from acceptance until its last
// chunk is delivered, which fulfil and bulkFail below enforce by deleting
// the map entry once the job goes terminal.
func (t *pendingTable) insert(id pkgpool.JobID, length int) *pendingJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := newPendingJob(id, length)
	t.byJob[id] = j
	return j
}

// fulfil delivers chunk i of job id and removes the record once terminal.
// Unknown job IDs are ignored (the job may have already been bulk-failed).
// Reports whether this call drove the job terminal, and its submit time, so
// the caller can observe one submit-to-fulfilment latency sample per job.
func (t *pendingTable) fulfil(id pkgpool.JobID, i int, o outcome) (terminal bool, submittedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byJob[id]
	if !ok {
		return false, time.Time{}
	}
	j.fulfil(i, o)
	if j.terminal() {
		delete(t.byJob, id)
		return true, j.submittedAt
	}
	return false, time.Time{}
}

// bulkFail fulfils every remaining chunk of every pending job with the same
// outcome, repeatedly invoking fulfil until each record is terminal (spec.md
// section 4.2 step 4 / section 4.4 step 8), then empties the table. Returns
// each job's submit time, one per job that was outstanding, so the caller
// can emit a metrics count and a submit-to-fulfilment latency sample per job.
func (t *pendingTable) bulkFail(err error) []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := outcome{success: false, err: err}
	submittedAts := make([]time.Time, 0, len(t.byJob))
	for id, j := range t.byJob {
		for !j.terminal() {
			j.fulfil(j.index, o)
		}
		submittedAts = append(submittedAts, j.submittedAt)
		delete(t.byJob, id)
	}
	return submittedAts
}

// len reports the number of jobs still pending (used by Resize's drain spin
// and its "pending is non-empty" advisory warning).
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byJob)
}

// get returns the pending job for id, if any, without mutating it.
func (t *pendingTable) get(id pkgpool.JobID) (*pendingJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byJob[id]
	return j, ok
}
