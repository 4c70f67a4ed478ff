package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// TestMetricsRegistered verifies that all metrics are registered in the
// default registry without panicking.
func TestMetricsRegistered(t *testing.T) {
	// Counters and histograms only appear in Gather output after the
	// first observation, so seed every metric.
	DispatchesTotal.WithLabelValues("ok").Inc()
	ExecuteDuration.Observe(0.1)
	WorkersByState.WithLabelValues("READY").Set(4)
	WorkerRestartsTotal.WithLabelValues("crash").Inc()
	PoolExhaustedTotal.Inc()
	ProbeFailuresTotal.Inc()
	ChangedFiles.Observe(2)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"runbox_dispatches_total":            false,
		"runbox_execute_duration_seconds":    false,
		"runbox_workers":                     false,
		"runbox_worker_restarts_total":       false,
		"runbox_pool_exhausted_total":        false,
		"runbox_health_probe_failures_total": false,
		"runbox_changed_files":               false,
	}

	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

func TestDispatchCounterIncrements(t *testing.T) {
	before := counterValue(t, DispatchesTotal, "timeout")
	DispatchesTotal.WithLabelValues("timeout").Inc()
	after := counterValue(t, DispatchesTotal, "timeout")

	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got delta=%f", after-before)
	}
}

func TestWorkersGaugeTracksState(t *testing.T) {
	WorkersByState.WithLabelValues("BUSY").Set(3)
	if got := gaugeValue(t, WorkersByState.WithLabelValues("BUSY")); got != 3 {
		t.Errorf("gauge = %f, want 3", got)
	}
	WorkersByState.WithLabelValues("BUSY").Set(0)
	if got := gaugeValue(t, WorkersByState.WithLabelValues("BUSY")); got != 0 {
		t.Errorf("gauge = %f, want 0", got)
	}
}

// counterValue reads the current value of a CounterVec for the given labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// gaugeValue reads the current value of a Gauge.
func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("writing gauge metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
