package pool

import (
	"sync"
	"testing"
	"time"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

// recvWithTimeout reads one element off q without blocking the test forever
// if the expected value never arrives.
func recvWithTimeout(t *testing.T, q *queue, timeout time.Duration) (v any, ok bool) {
	t.Helper()
	ch := make(chan any, 1)
	go func() { ch <- q.recv() }()
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		return nil, false
	}
}

// recordingMetrics is a ControllerMetrics test double that counts calls
// instead of exporting to Prometheus, so tests can assert on what the
// controller reported without standing up a real collector.
type recordingMetrics struct {
	mu        sync.Mutex
	submitted int
	completed int
	aborted   int
	crashes   int
	resizes   int
	lastState pkgpool.State
	latencies []time.Duration
}

func (m *recordingMetrics) ObserveSubmit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted++
}

func (m *recordingMetrics) ObserveComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *recordingMetrics) ObserveAborted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted++
}

func (m *recordingMetrics) ObserveWorkerCrash() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crashes++
}

func (m *recordingMetrics) ObserveResize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resizes++
}

func (m *recordingMetrics) SetState(s pkgpool.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastState = s
}

func (m *recordingMetrics) ObserveLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d)
}
