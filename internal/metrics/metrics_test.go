package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersUpdateCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordStoreOperation("upsert", 5*time.Millisecond, nil)
	m.RecordStoreOperation("upsert", time.Millisecond, errors.New("boom"))
	m.RecordFork("product", nil)
	m.RecordMerge(nil)
	m.RecordReplay("update")
	m.RecordReplay("update")
	m.RecordCommit("insert", 3)
	m.RecordNoopCommit()
	m.RecordUserLookup("hit")

	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("upsert", "success")); got != 1 {
		t.Errorf("Expected 1 successful upsert, got %v", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("upsert", "error")); got != 1 {
		t.Errorf("Expected 1 failed upsert, got %v", got)
	}
	if got := testutil.ToFloat64(m.ForksTotal.WithLabelValues("product", "success")); got != 1 {
		t.Errorf("Expected 1 fork, got %v", got)
	}
	if got := testutil.ToFloat64(m.MergeReplayedTotal.WithLabelValues("update")); got != 2 {
		t.Errorf("Expected 2 replayed updates, got %v", got)
	}
	if got := testutil.ToFloat64(m.CommitDataTotal); got != 3 {
		t.Errorf("Expected 3 commit data entries, got %v", got)
	}
	if got := testutil.ToFloat64(m.NoopCommitsSkipped); got != 1 {
		t.Errorf("Expected 1 skipped commit, got %v", got)
	}
	if got := testutil.ToFloat64(m.UserLookupsTotal.WithLabelValues("hit")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Each registry gets its own collectors, so repeated construction must not panic.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordStoreOperation("insert", time.Millisecond, nil)
	m.RecordFork("product", nil)
	m.RecordMerge(nil)
	m.RecordReplay("insert")
	m.RecordCommit("insert", 1)
	m.RecordNoopCommit()
	m.RecordUserLookup("miss")
}

func TestUptimeGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.StartTime = time.Now().Add(-time.Minute)

	if got := testutil.ToFloat64(m.UptimeSeconds); got < 59 {
		t.Errorf("Expected uptime of about a minute, got %v", got)
	}
}
