package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

func TestPendingJobSingleValueFulfilsImmediately(t *testing.T) {
	j := newPendingJob(1, 1)
	assert.False(t, j.terminal())

	j.fulfil(0, outcome{success: true, value: []byte("ok")})
	assert.True(t, j.terminal())
	select {
	case <-j.done:
	default:
		t.Fatal("done channel not closed on terminal transition")
	}
}

func TestPendingJobOutOfOrderChunkFulfilment(t *testing.T) {
	j := newPendingJob(1, 3)

	j.fulfil(2, outcome{success: true})
	assert.False(t, j.terminal())
	assert.Equal(t, 0, j.index)

	j.fulfil(0, outcome{success: true})
	assert.Equal(t, 1, j.index) // only slot 0 is a leading run so far

	j.fulfil(1, outcome{success: true})
	assert.True(t, j.terminal())
	assert.Equal(t, 3, j.index)
}

func TestPendingJobFulfilIgnoresOutOfRangeAndDuplicateIndex(t *testing.T) {
	j := newPendingJob(1, 2)

	j.fulfil(-1, outcome{success: true})
	j.fulfil(5, outcome{success: true})
	assert.Equal(t, 0, j.index)

	j.fulfil(0, outcome{success: true, value: []byte("first")})
	j.fulfil(0, outcome{success: true, value: []byte("second")}) // duplicate, ignored
	assert.Equal(t, []byte("first"), j.slots[0].value)
}

func TestPendingTableInsertAndGet(t *testing.T) {
	table := newPendingTable()
	table.insert(7, 2)

	j, ok := table.get(7)
	require.True(t, ok)
	assert.Equal(t, 2, j.length)
	assert.Equal(t, 1, table.len())

	_, ok = table.get(99)
	assert.False(t, ok)
}

func TestPendingTableFulfilRemovesOnTerminal(t *testing.T) {
	table := newPendingTable()
	table.insert(1, 1)

	table.fulfil(1, 0, outcome{success: true})
	_, ok := table.get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, table.len())
}

func TestPendingTableFulfilUnknownJobIsNoop(t *testing.T) {
	table := newPendingTable()
	table.fulfil(123, 0, outcome{success: true}) // must not panic
	assert.Equal(t, 0, table.len())
}

func TestPendingTableBulkFailFailsEveryOutstandingJob(t *testing.T) {
	table := newPendingTable()
	j1 := table.insert(1, 1)
	j2 := table.insert(2, 2)
	j2.fulfil(0, outcome{success: true}) // partially fulfilled before crash

	failErr := errors.New("worker crashed")
	submittedAts := table.bulkFail(failErr)

	assert.Len(t, submittedAts, 2)
	assert.Equal(t, 0, table.len())

	assert.True(t, j1.terminal())
	assert.ErrorIs(t, j1.slots[0].err, failErr)

	assert.True(t, j2.terminal())
	assert.True(t, j2.slots[0].success) // untouched, already fulfilled
	assert.ErrorIs(t, j2.slots[1].err, failErr)
}

func TestPendingTableBulkFailOnEmptyTableReturnsZero(t *testing.T) {
	table := newPendingTable()
	assert.Empty(t, table.bulkFail(errors.New("n/a")))
}

var _ = pkgpool.JobID(0) // keep import used if future edits trim direct references
