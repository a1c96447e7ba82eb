// Package metrics exposes Prometheus metrics for the reconciliation
// engine. All metrics live on an explicit Registry owned by the
// Metrics value; there is no shared global state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metrics for keywatch.
type Metrics struct {
	// Report ingestion
	ReportsSubmittedTotal *prometheus.CounterVec
	ReportsDuplicateTotal prometheus.Counter
	ReportsRenewedTotal   *prometheus.CounterVec
	ReportsRejectedTotal  *prometheus.CounterVec

	// Lifecycle sweep
	SweepRunsTotal        prometheus.Counter
	SweepTransitionsTotal *prometheus.CounterVec

	// Featured rotation
	RotationsTotal               *prometheus.CounterVec
	RotationPersistFailuresTotal prometheus.Counter

	// API
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ReportsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywatch_reports_submitted_total",
				Help: "Total number of accepted key-status reports",
			},
			[]string{"program", "event_type"},
		),
		ReportsDuplicateTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keywatch_reports_duplicate_total",
				Help: "Total number of submissions refused as duplicates",
			},
		),
		ReportsRenewedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywatch_reports_renewed_total",
				Help: "Total number of reports reclassified via renewal",
			},
			[]string{"event_type"},
		),
		ReportsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywatch_reports_rejected_total",
				Help: "Total number of submissions rejected before storage",
			},
			[]string{"reason"},
		),
		SweepRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keywatch_sweep_runs_total",
				Help: "Total number of lifecycle sweeps executed",
			},
		),
		SweepTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywatch_sweep_transitions_total",
				Help: "Total number of automatic key status transitions",
			},
			[]string{"from", "to"},
		),
		RotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywatch_rotations_total",
				Help: "Total number of featured selection rotations",
			},
			[]string{"criteria"},
		),
		RotationPersistFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keywatch_rotation_persist_failures_total",
				Help: "Total number of failed best-effort featured state writes",
			},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywatch_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keywatch_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.ReportsSubmittedTotal,
		m.ReportsDuplicateTotal,
		m.ReportsRenewedTotal,
		m.ReportsRejectedTotal,
		m.SweepRunsTotal,
		m.SweepTransitionsTotal,
		m.RotationsTotal,
		m.RotationPersistFailuresTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the Prometheus registry holding all metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
