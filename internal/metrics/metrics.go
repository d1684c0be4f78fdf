// ============================================================================
// Rpool Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose pool-lifecycle metrics for Prometheus
//
// Monitoring Philosophy:
//   Based on RED (Rate, Errors, Duration) and USE (Utilization, Saturation,
//   Errors), scoped to the pool controller rather than a generic job queue.
//
// Metric Categories:
//
//   Every metric name below is exported with an "rpool_" prefix.
//
//   1. Job Counters - Cumulative, monotonically increasing:
//      - rpool_jobs_submitted_total: Total jobs accepted by Submit/SubmitChunked
//      - rpool_jobs_completed_total: Total chunks completed successfully
//      - rpool_jobs_aborted_total{reason}: Total jobs failed via crash-cleanup
//        or shutdown (one count per job, however many chunks it had),
//        labeled by reason (worker-death, task-handler-crash,
//        result-handler-crash, terminated)
//      - rpool_worker_crashes_total: Total worker processes observed to exit
//        with a non-zero/negative code
//      - rpool_resize_total: Total completed Resize calls
//
//   2. Performance Metrics (Histogram):
//      - rpool_job_latency_seconds: submit-to-fulfilment latency distribution
//
//   3. Status Metrics (Gauge):
//      - rpool_pool_state: current lifecycle state (0=RUN, 1=CLOSE,
//        2=TERMINATE, 3=BROKEN)
//
// Use Cases:
//
//   Alerting:
//   - rpool_jobs_aborted_total rate increase → workers crashing repeatedly
//   - rpool_pool_state == 3 (BROKEN) sustained → singleton registry not recycling
//   - rpool_job_latency_seconds p95 > SLA → worker saturation or slow tasks
//
//   Prometheus Query Examples:
//   - rate(rpool_jobs_completed_total[1m])
//   - histogram_quantile(0.95, rpool_job_latency_seconds_bucket)
//   - rate(rpool_jobs_aborted_total[5m])
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus. Default port: 9090.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pkgpool "github.com/tomMoral/Rpool/pkg/pool"
)

// Collector collects Prometheus metrics for one pool controller. It
// implements internal/pool.ControllerMetrics, so a *Collector can be passed
// straight into pool.Config.Metrics.
type Collector struct {
	jobsSubmitted prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsAborted   *prometheus.CounterVec
	workerCrashes prometheus.Counter
	resizes       prometheus.Counter

	jobLatency prometheus.Histogram
	poolState  prometheus.Gauge
}

// NewCollector creates a new metrics collector and registers its metrics
// against the default Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpool_jobs_submitted_total",
			Help: "Total number of jobs accepted by Submit/SubmitChunked",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpool_jobs_completed_total",
			Help: "Total number of chunks completed successfully",
		}),
		jobsAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpool_jobs_aborted_total",
			Help: "Total number of jobs failed via crash-cleanup or shutdown",
		}, []string{"reason"}),
		workerCrashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpool_worker_crashes_total",
			Help: "Total number of worker processes observed exiting abnormally",
		}),
		resizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpool_resize_total",
			Help: "Total number of completed Resize calls",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rpool_job_latency_seconds",
			Help:    "Submit-to-fulfilment latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		poolState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpool_pool_state",
			Help: "Current pool lifecycle state (0=RUN, 1=CLOSE, 2=TERMINATE, 3=BROKEN)",
		}),
	}

	prometheus.MustRegister(c.jobsSubmitted)
	prometheus.MustRegister(c.jobsCompleted)
	prometheus.MustRegister(c.jobsAborted)
	prometheus.MustRegister(c.workerCrashes)
	prometheus.MustRegister(c.resizes)
	prometheus.MustRegister(c.jobLatency)
	prometheus.MustRegister(c.poolState)

	return c
}

// ObserveSubmit records one accepted submission.
func (c *Collector) ObserveSubmit() {
	c.jobsSubmitted.Inc()
}

// ObserveComplete records one successfully fulfilled chunk.
func (c *Collector) ObserveComplete() {
	c.jobsCompleted.Inc()
}

// ObserveAborted records one job failed with the given reason.
func (c *Collector) ObserveAborted(reason string) {
	c.jobsAborted.WithLabelValues(reason).Inc()
}

// ObserveWorkerCrash records one worker process exiting abnormally.
func (c *Collector) ObserveWorkerCrash() {
	c.workerCrashes.Inc()
}

// ObserveResize records one completed Resize call.
func (c *Collector) ObserveResize() {
	c.resizes.Inc()
}

// SetState publishes the pool's current lifecycle state.
func (c *Collector) SetState(s pkgpool.State) {
	c.poolState.Set(float64(s))
}

// ObserveLatency records a submit-to-fulfilment duration.
func (c *Collector) ObserveLatency(d time.Duration) {
	c.jobLatency.Observe(d.Seconds())
}

// StartServer starts the Prometheus metrics HTTP server on the given port.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
