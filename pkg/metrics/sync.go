package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncRunMetrics records outcomes of sync and reload runs.
type SyncRunMetrics struct {
	duration        *prometheus.HistogramVec
	success         *prometheus.CounterVec
	failure         *prometheus.CounterVec
	recordsFetched  *prometheus.CounterVec
	accountFailures *prometheus.CounterVec
}

// NewSyncRunMetrics registers the run metrics on the provided registerer.
func NewSyncRunMetrics(reg prometheus.Registerer) *SyncRunMetrics {
	if reg == nil {
		return &SyncRunMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "run_duration_seconds",
		Help:    "Duration of sync runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "run_success",
		Help: "Successful run executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "run_failure",
		Help: "Failed run executions.",
	}, []string{"job"})
	recordsFetched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "run_records_fetched_total",
		Help: "Click records fetched across runs.",
	}, []string{"job"})
	accountFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "run_account_failures_total",
		Help: "Accounts whose fetch failed and was skipped.",
	}, []string{"job"})
	reg.MustRegister(duration, success, failure, recordsFetched, accountFailures)
	return &SyncRunMetrics{
		duration:        duration,
		success:         success,
		failure:         failure,
		recordsFetched:  recordsFetched,
		accountFailures: accountFailures,
	}
}

// ObserveDuration records the duration for the named job.
func (m *SyncRunMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (m *SyncRunMetrics) IncSuccess(job string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (m *SyncRunMetrics) IncFailure(job string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// AddRecordsFetched adds fetched record counts for the named job.
func (m *SyncRunMetrics) AddRecordsFetched(job string, n int) {
	if m == nil || m.recordsFetched == nil || n <= 0 {
		return
	}
	m.recordsFetched.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

// AddAccountFailures adds skipped-account counts for the named job.
func (m *SyncRunMetrics) AddAccountFailures(job string, n int) {
	if m == nil || m.accountFailures == nil || n <= 0 {
		return
	}
	m.accountFailures.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
