package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

func TestGetPoolConstructsOnAbsentScope(t *testing.T) {
	ctx := WithScope(context.Background(), "singleton-test-construct")

	p, err := GetPool(ctx, Config{Processes: 1})
	require.NoError(t, err)
	defer func() {
		p.Terminate()
		p.Join()
	}()

	assert.Equal(t, pkgpool.RUN, p.State())
	assert.Equal(t, 1, p.WorkerCount())
}

func TestGetPoolResizesExistingRunningPool(t *testing.T) {
	ctx := WithScope(context.Background(), "singleton-test-resize")

	first, err := GetPool(ctx, Config{Processes: 1})
	require.NoError(t, err)
	defer func() {
		first.Terminate()
		first.Join()
	}()

	resizeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	second, err := GetPool(resizeCtx, Config{Processes: 2})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 2, second.WorkerCount())
}

func TestGetPoolReplacesBrokenPool(t *testing.T) {
	ctx := WithScope(context.Background(), "singleton-test-replace-broken")

	first, err := GetPool(ctx, Config{Processes: 1})
	require.NoError(t, err)

	first.maintainMu.Lock()
	first.cleanUpCrashLocked(pkgpool.ReasonWorkerDeath, 1)
	first.maintainMu.Unlock()

	second, err := GetPool(ctx, Config{Processes: 1})
	require.NoError(t, err)
	defer func() {
		second.Terminate()
		second.Join()
	}()

	assert.NotSame(t, first, second)
	assert.Equal(t, pkgpool.RUN, second.State())
}
