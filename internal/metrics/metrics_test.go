package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	if m.ReportsSubmittedTotal == nil {
		t.Error("ReportsSubmittedTotal is nil")
	}
	if m.ReportsDuplicateTotal == nil {
		t.Error("ReportsDuplicateTotal is nil")
	}
	if m.ReportsRenewedTotal == nil {
		t.Error("ReportsRenewedTotal is nil")
	}
	if m.ReportsRejectedTotal == nil {
		t.Error("ReportsRejectedTotal is nil")
	}
	if m.SweepRunsTotal == nil {
		t.Error("SweepRunsTotal is nil")
	}
	if m.SweepTransitionsTotal == nil {
		t.Error("SweepTransitionsTotal is nil")
	}
	if m.RotationsTotal == nil {
		t.Error("RotationsTotal is nil")
	}
	if m.RotationPersistFailuresTotal == nil {
		t.Error("RotationPersistFailuresTotal is nil")
	}
	if m.APIRequestsTotal == nil {
		t.Error("APIRequestsTotal is nil")
	}
	if m.APIRequestDurationSeconds == nil {
		t.Error("APIRequestDurationSeconds is nil")
	}
}

func TestIndependentInstances(t *testing.T) {
	// Two instances own separate registries, so tests and embedded use
	// never collide on registration.
	a := New()
	b := New()

	a.ReportsDuplicateTotal.Inc()

	var metric dto.Metric
	if err := b.ReportsDuplicateTotal.Write(&metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	if metric.GetCounter().GetValue() != 0 {
		t.Error("counter state leaked between instances")
	}
}

func TestCounterLabels(t *testing.T) {
	m := New()
	m.ReportsSubmittedTotal.WithLabelValues("acme", "working").Inc()
	m.ReportsSubmittedTotal.WithLabelValues("acme", "working").Inc()
	m.ReportsSubmittedTotal.WithLabelValues("acme", "expired").Inc()

	counter, err := m.ReportsSubmittedTotal.GetMetricWithLabelValues("acme", "working")
	if err != nil {
		t.Fatalf("failed to get counter: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Errorf("counter value = %v, want 2", got)
	}
}
