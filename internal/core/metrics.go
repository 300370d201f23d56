package core

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energyimport",
		Subsystem: "pipeline",
		Name:      "rows_total",
		Help:      "Total number of imported rows broken down by record kind and final status.",
	}, []string{"kind", "status"})

	importIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energyimport",
		Subsystem: "pipeline",
		Name:      "issues_total",
		Help:      "Total number of row errors and warnings broken down by code and severity.",
	}, []string{"code", "severity"})

	importRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energyimport",
		Subsystem: "runs",
		Name:      "finished_total",
		Help:      "Total number of finished import runs broken down by status and dry-run flag.",
	}, []string{"status", "dry_run"})

	importRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "energyimport",
		Subsystem: "runs",
		Name:      "duration_seconds",
		Help:      "Wall time of import runs.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"status"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "energyimport",
		Subsystem: "runs",
		Name:      "active",
		Help:      "Number of import runs currently holding a limiter slot.",
	})
)

// recordRunMetrics publishes the counters of a finished run.
func recordRunMetrics(run *ImportRun) {
	for _, o := range run.Outcomes {
		if o.Status == "" {
			continue
		}
		kind := string(o.Kind)
		if kind == "" {
			kind = string(KindUnknown)
		}
		importRows.WithLabelValues(kind, string(o.Status)).Inc()
		for _, is := range o.Errors {
			importIssues.WithLabelValues(string(is.Code), string(is.Severity)).Inc()
		}
		for _, is := range o.Warnings {
			importIssues.WithLabelValues(string(is.Code), string(is.Severity)).Inc()
		}
	}
	if run.Failure != nil {
		importIssues.WithLabelValues(string(run.Failure.Code), string(run.Failure.Severity)).Inc()
	}
	importRuns.WithLabelValues(string(run.Status), strconv.FormatBool(run.Options.DryRun)).Inc()
	importRunDuration.WithLabelValues(string(run.Status)).Observe(run.DurationSeconds)
}
