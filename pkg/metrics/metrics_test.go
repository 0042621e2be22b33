package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordErrorIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.RecordError(ErrorKindConsensus)
	m.RecordError(ErrorKindConsensus)
	m.RecordError(ErrorKindMempool)

	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(string(ErrorKindConsensus))); got != 2 {
		t.Fatalf("consensus error count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(string(ErrorKindMempool))); got != 1 {
		t.Fatalf("mempool error count = %v, want 1", got)
	}
}

func TestSetTaskAlive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.SetTaskAlive("round-timer", true)
	if got := testutil.ToFloat64(m.BackgroundTaskAlive.WithLabelValues("round-timer")); got != 1 {
		t.Fatalf("task alive = %v, want 1", got)
	}
	m.SetTaskAlive("round-timer", false)
	if got := testutil.ToFloat64(m.BackgroundTaskAlive.WithLabelValues("round-timer")); got != 0 {
		t.Fatalf("task alive = %v, want 0", got)
	}
}
