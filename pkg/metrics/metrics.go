// Package metrics exposes Prometheus counters/histograms/gauges for
// the launch engine, grounded in the teacher's pkg/metrics: package
// vars registered in init(), a promhttp Handler, and a Timer helper
// for latency observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker Pool metrics.
	PoolActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasklaunch_pool_active_workers",
			Help: "Number of currently active worker slots.",
		},
	)

	PoolAdmissionWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasklaunch_pool_admission_wait_seconds",
			Help:    "Time a request spent waiting for admission into the worker pool.",
			Buckets: prometheus.DefBuckets,
		},
	)

	PoolWatchdogStuckWorkers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasklaunch_pool_watchdog_stuck_workers_total",
			Help: "Number of times the watchdog flagged a worker older than the stuck threshold.",
		},
	)

	// Per-Node Launch Worker metrics.
	LaunchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklaunch_launch_attempts_total",
			Help: "Launch RPC attempts by outcome (success, retry, failed).",
		},
		[]string{"outcome"},
	)

	LaunchRPCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasklaunch_launch_rpc_duration_seconds",
			Help:    "Duration of a single launch RPC exchange with one slurmd.",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodesUnreachableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasklaunch_nodes_unreachable_total",
			Help: "Number of nodes that exhausted their retry budget or hit a non-retryable error.",
		},
	)

	// State Tracker / job life-cycle metrics.
	TasksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasklaunch_tasks_failed_total",
			Help: "Total tasks marked FAILED.",
		},
	)

	JobTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklaunch_job_terminal_total",
			Help: "Terminal JobState transitions by final state.",
		},
		[]string{"state"},
	)

	LaunchLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasklaunch_launch_latency_seconds",
			Help:    "End-to-end duration from LAUNCHING to the first RUNNING transition.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event Pipe metrics.
	EventPipeFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasklaunch_eventpipe_frames_total",
			Help: "Event Pipe frames written, by tag.",
		},
		[]string{"tag"},
	)
)

func init() {
	prometheus.MustRegister(
		PoolActiveWorkers,
		PoolAdmissionWaitSeconds,
		PoolWatchdogStuckWorkers,
		LaunchAttemptsTotal,
		LaunchRPCDuration,
		NodesUnreachableTotal,
		TasksFailedTotal,
		JobTerminalTotal,
		LaunchLatencySeconds,
		EventPipeFramesTotal,
	)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with
// labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
