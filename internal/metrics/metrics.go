package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vigilstack/vigil-agent/internal/models"
)

const (
	// OutcomeSuccess labels cycles that produced a summary, degraded or not.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles aborted by collaborator misconfiguration.
	OutcomeError = "error"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "cycles_total",
			Help:      "Total number of pipeline cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vigil_agent",
			Name:      "cycle_seconds",
			Help:      "Full-cycle latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	eventsCollectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "events_collected_total",
			Help:      "Total telemetry events collected across cycles.",
		},
	)

	incidentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "incidents_created_total",
			Help:      "Total incidents created, partitioned by priority.",
		},
		[]string{"priority"},
	)

	ticketsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "tickets_created_total",
			Help:      "Total tickets created across cycles.",
		},
	)

	notificationsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "notifications_sent_total",
			Help:      "Total incident notifications sent across cycles.",
		},
	)

	incidentsStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "incidents_stored_total",
			Help:      "Total incidents indexed into the knowledge store.",
		},
	)

	stageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "stage_errors_total",
			Help:      "Total degraded-stage occurrences, partitioned by stage.",
		},
		[]string{"stage"},
	)
)

// Register attaches vigil-agent collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		eventsCollectedTotal,
		incidentsCreatedTotal,
		ticketsCreatedTotal,
		notificationsSentTotal,
		incidentsStoredTotal,
		stageErrorsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}

	// Pre-create the per-stage series so a stage that has never degraded
	// still exports an explicit zero.
	for _, stage := range models.Stages() {
		stageErrorsTotal.WithLabelValues(string(stage))
	}
	return nil
}

// ObserveCycle records the outcome counts of one completed cycle.
func ObserveCycle(summary models.CycleSummary) {
	outcome := OutcomeSuccess
	if !summary.Success {
		outcome = OutcomeError
	}
	cyclesTotal.WithLabelValues(outcome).Inc()

	duration := summary.Duration
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())

	eventsCollectedTotal.Add(float64(summary.EventsCollected))
	for _, incident := range summary.Incidents {
		incidentsCreatedTotal.WithLabelValues(string(incident.Priority)).Inc()
	}
	ticketsCreatedTotal.Add(float64(len(summary.TicketsCreated)))
	notificationsSentTotal.Add(float64(len(summary.NotificationsSent)))
	incidentsStoredTotal.Add(float64(summary.IncidentsStored))
	for _, stageErr := range summary.StageErrors {
		stageErrorsTotal.WithLabelValues(string(stageErr.Stage)).Inc()
	}
}
