// Package metrics provides Prometheus metrics for the versioning engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Version metrics
	ForksTotal          *prometheus.CounterVec
	MergesTotal         *prometheus.CounterVec
	MergeReplayedTotal  *prometheus.CounterVec
	CommitsWrittenTotal *prometheus.CounterVec
	CommitDataTotal     prometheus.Counter
	NoopCommitsSkipped  prometheus.Counter
	UserLookupsTotal    *prometheus.CounterVec

	// Process metrics
	UptimeSeconds prometheus.GaugeFunc
	StartTime     time.Time
}

// New creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		StartTime: time.Now(),
	}

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityversion_store_operations_total",
			Help: "Total number of entity store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entityversion_store_operation_duration_seconds",
			Help:    "Duration of entity store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.ForksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityversion_forks_total",
			Help: "Total number of version forks",
		},
		[]string{"definition", "status"},
	)

	m.MergesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityversion_merges_total",
			Help: "Total number of version merges",
		},
		[]string{"status"},
	)

	m.MergeReplayedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityversion_merge_replayed_entries_total",
			Help: "Commit data entries replayed into the live version",
		},
		[]string{"action"},
	)

	m.CommitsWrittenTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityversion_commits_written_total",
			Help: "Audit commits written",
		},
		[]string{"action"},
	)

	m.CommitDataTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "entityversion_commit_data_written_total",
			Help: "Audit commit data entries written",
		},
	)

	m.NoopCommitsSkipped = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "entityversion_noop_commits_skipped_total",
			Help: "Audit commits skipped because nothing was written",
		},
	)

	m.UserLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entityversion_user_lookups_total",
			Help: "Acting user resolutions by cache outcome",
		},
		[]string{"result"},
	)

	m.UptimeSeconds = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "entityversion_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.StartTime).Seconds() },
	)

	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordStoreOperation records an entity store operation
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFork records a version fork
func (m *Metrics) RecordFork(definition string, err error) {
	if m == nil {
		return
	}
	m.ForksTotal.WithLabelValues(definition, status(err)).Inc()
}

// RecordMerge records a version merge
func (m *Metrics) RecordMerge(err error) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(status(err)).Inc()
}

// RecordReplay records one replayed commit data entry
func (m *Metrics) RecordReplay(action string) {
	if m == nil {
		return
	}
	m.MergeReplayedTotal.WithLabelValues(action).Inc()
}

// RecordCommit records a persisted audit commit with its entry count
func (m *Metrics) RecordCommit(action string, entries int) {
	if m == nil {
		return
	}
	m.CommitsWrittenTotal.WithLabelValues(action).Inc()
	m.CommitDataTotal.Add(float64(entries))
}

// RecordNoopCommit records a skipped empty commit
func (m *Metrics) RecordNoopCommit() {
	if m == nil {
		return
	}
	m.NoopCommitsSkipped.Inc()
}

// RecordUserLookup records a user resolution outcome: hit, miss or search
func (m *Metrics) RecordUserLookup(result string) {
	if m == nil {
		return
	}
	m.UserLookupsTotal.WithLabelValues(result).Inc()
}
