// Package telemetry holds the counters and histograms shared across the
// vault components. Unlike the teacher's metrics package, these are never
// registered against the global default registry: every call site receives
// its metrics from a *Metrics value built by New, which registers against
// the *prometheus.Registry the caller supplies.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter and histogram exercised by the vault
// engine. A nil *Metrics is valid and every method on it is a no-op, so
// callers that don't care about metrics can simply pass nil.
type Metrics struct {
	ClientCommits      *prometheus.CounterVec
	ClientLifecycle    *prometheus.CounterVec
	ProcedureExecs     *prometheus.CounterVec
	ProcedureDuration  *prometheus.HistogramVec
	SnapshotWrites     prometheus.Counter
	SnapshotWriteTime  prometheus.Histogram
	SyncRecordsSent    prometheus.Counter
	SyncRecordsApplied prometheus.Counter
	FirewallDecisions  *prometheus.CounterVec
}

// New builds a Metrics bundle and registers every collector against reg.
// reg must not be nil; use NewUnregistered for tests that don't need a
// live registry.
func New(reg *prometheus.Registry) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.ClientCommits,
		m.ClientLifecycle,
		m.ProcedureExecs,
		m.ProcedureDuration,
		m.SnapshotWrites,
		m.SnapshotWriteTime,
		m.SyncRecordsSent,
		m.SyncRecordsApplied,
		m.FirewallDecisions,
	)
	return m
}

func newMetrics() *Metrics {
	return &Metrics{
		ClientCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stronghold_client_commits_total",
				Help: "Total number of client commit operations by result",
			},
			[]string{"result"},
		),
		ClientLifecycle: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stronghold_client_lifecycle_transitions_total",
				Help: "Total number of client state transitions by target state",
			},
			[]string{"state"},
		),
		ProcedureExecs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stronghold_procedure_executions_total",
				Help: "Total number of procedure executions by kind and result",
			},
			[]string{"kind", "result"},
		),
		ProcedureDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stronghold_procedure_duration_seconds",
				Help:    "Procedure execution duration in seconds by kind",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		SnapshotWrites: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stronghold_snapshot_writes_total",
				Help: "Total number of snapshot files written",
			},
		),
		SnapshotWriteTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stronghold_snapshot_write_duration_seconds",
				Help:    "Time taken to compress, encrypt and fsync a snapshot file",
				Buckets: prometheus.DefBuckets,
			},
		),
		SyncRecordsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stronghold_sync_records_exported_total",
				Help: "Total number of records exported to a peer",
			},
		),
		SyncRecordsApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stronghold_sync_records_imported_total",
				Help: "Total number of records applied from a peer",
			},
		),
		FirewallDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stronghold_firewall_decisions_total",
				Help: "Total number of firewall evaluations by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// NewUnregistered builds a Metrics bundle without registering it anywhere.
// Useful for unit tests that want to assert on counter values directly.
func NewUnregistered() *Metrics {
	return newMetrics()
}

// CommitResult records the outcome of a client commit.
func (m *Metrics) CommitResult(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.ClientCommits.WithLabelValues("success").Inc()
		return
	}
	m.ClientCommits.WithLabelValues("failure").Inc()
}

// LifecycleTransition records a client moving into state.
func (m *Metrics) LifecycleTransition(state string) {
	if m == nil {
		return
	}
	m.ClientLifecycle.WithLabelValues(state).Inc()
}

// Timer measures elapsed wall time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() Timer {
	return Timer{start: time.Now()}
}

// ObserveProcedure records a procedure's duration and result against kind.
func (m *Metrics) ObserveProcedure(kind string, t Timer, err error) {
	if m == nil {
		return
	}
	m.ProcedureDuration.WithLabelValues(kind).Observe(time.Since(t.start).Seconds())
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ProcedureExecs.WithLabelValues(kind, result).Inc()
}

// ObserveSnapshotWrite records a snapshot file write's duration.
func (m *Metrics) ObserveSnapshotWrite(t Timer) {
	if m == nil {
		return
	}
	m.SnapshotWrites.Inc()
	m.SnapshotWriteTime.Observe(time.Since(t.start).Seconds())
}

// AddRecordsExported increments the exported-record counter by n.
func (m *Metrics) AddRecordsExported(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SyncRecordsSent.Add(float64(n))
}

// AddRecordsImported increments the imported-record counter by n.
func (m *Metrics) AddRecordsImported(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SyncRecordsApplied.Add(float64(n))
}

// FirewallDecision records an allow/deny outcome.
func (m *Metrics) FirewallDecision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.FirewallDecisions.WithLabelValues("allow").Inc()
		return
	}
	m.FirewallDecisions.WithLabelValues("deny").Inc()
}
