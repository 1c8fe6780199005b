package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the detection pipeline.
type Metrics struct {
	PassesTotal      *prometheus.CounterVec
	PassDuration     *prometheus.HistogramVec
	EventsParsed     *prometheus.CounterVec
	AlertsUpserted   *prometheus.CounterVec
	IncidentsOpened  prometheus.Counter
	IncidentsTouched prometheus.Counter
	Escalations      prometheus.Counter
	RunsTotal        *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casefile_pipeline_passes_total",
			Help: "Total pipeline passes by stage and result.",
		}, []string{"stage", "result"}),
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casefile_pipeline_pass_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		}, []string{"stage"}),
		EventsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casefile_events_parsed_total",
			Help: "Total events produced from raw lines by source.",
		}, []string{"source"}),
		AlertsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casefile_alerts_upserted_total",
			Help: "Total alert upserts by rule.",
		}, []string{"rule"}),
		IncidentsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casefile_incidents_opened_total",
			Help: "Total incidents created from alerts.",
		}),
		IncidentsTouched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casefile_incidents_updated_total",
			Help: "Total incidents rewritten in place from refreshed alerts.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casefile_incident_escalations_total",
			Help: "Total incident severity escalations from correlation.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casefile_enrichment_runs_total",
			Help: "Total enrichment run state transitions by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.PassesTotal,
		m.PassDuration,
		m.EventsParsed,
		m.AlertsUpserted,
		m.IncidentsOpened,
		m.IncidentsTouched,
		m.Escalations,
		m.RunsTotal,
	)
	return m
}
