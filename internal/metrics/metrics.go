// Package metrics exposes Prometheus collectors for publish task activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "postscry"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	tasksTotal    *prometheus.CounterVec
	tasksRunning  prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	leaseWait     prometheus.Histogram
	uploadWait    *prometheus.HistogramVec
	mediaFetches  *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry. Collectors
// are created once so repeated construction does not panic on duplicate
// registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers a fresh set of collectors with reg and panics on
// registration errors, like promauto.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Publish tasks that reached a terminal state.",
		}, []string{"status"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "running",
			Help:      "Publish tasks currently executing their background unit.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each stage of the in-browser publish sequence.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "status"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "stage_failures_total",
			Help:      "Stage executions that aborted a publish.",
		}, []string{"stage"}),
		leaseWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "browser",
			Name:      "lease_wait_seconds",
			Help:      "Time a task waited for the browser session lease.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		uploadWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "upload_wait_seconds",
			Help:      "Time spent polling for media readiness.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		mediaFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "fetches_total",
			Help:      "Remote media fetches by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.tasksTotal, m.tasksRunning, m.stageDuration, m.stageFailures,
		m.leaseWait, m.uploadWait, m.mediaFetches)
	return m
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksRunning.Inc()
}

func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
	m.tasksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.stageFailures.WithLabelValues(stage).Inc()
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *Metrics) ObserveLeaseWait(d time.Duration) {
	if m == nil {
		return
	}
	m.leaseWait.Observe(d.Seconds())
}

func (m *Metrics) ObserveUploadWait(d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.uploadWait.WithLabelValues(outcome).Observe(d.Seconds())
}

// MediaFetch counts one remote fetch: "ok", "cached" or "error".
func (m *Metrics) MediaFetch(outcome string) {
	if m == nil {
		return
	}
	m.mediaFetches.WithLabelValues(outcome).Inc()
}
