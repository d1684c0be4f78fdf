package pool

import (
	"os"
	"testing"
)

// TestMain lets the compiled test binary itself act as a worker subprocess:
// spawnProcessWorker self-re-execs os.Executable(), which for `go test` is
// this very test binary. MaybeRunWorker must run before testing.Main, exactly
// like it must run before any other program's main(), or a spawned "worker"
// would just run the test suite instead of serving tasks on stdin/stdout.
func TestMain(m *testing.M) {
	MaybeRunWorker()
	os.Exit(m.Run())
}
