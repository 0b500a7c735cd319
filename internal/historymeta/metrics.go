package historymeta

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the service records and drops. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	observations  *prometheus.CounterVec
	staleRejected prometheus.Counter
	writeFailures *prometheus.CounterVec
	cleanupRows   prometheus.Counter
	lanePanics    *prometheus.CounterVec
}

// NewMetrics registers the service metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		observations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabtrail",
			Name:      "observations_recorded_total",
			Help:      "Observations successfully written to storage, by kind.",
		}, []string{"kind"}),
		staleRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tabtrail",
			Name:      "stale_updates_rejected_total",
			Help:      "View-time updates dropped because a later access window was already recorded.",
		}),
		writeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabtrail",
			Name:      "storage_write_failures_total",
			Help:      "Storage operations that failed and were dropped, by operation.",
		}, []string{"op"}),
		cleanupRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tabtrail",
			Name:      "cleanup_rows_deleted_total",
			Help:      "Metadata rows removed by retention cleanup.",
		}),
		lanePanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabtrail",
			Name:      "lane_panics_total",
			Help:      "Work items that panicked on a service lane.",
		}, []string{"lane"}),
	}
}

func (m *Metrics) observationRecorded(kind string) {
	if m != nil {
		m.observations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) staleUpdate() {
	if m != nil {
		m.staleRejected.Inc()
	}
}

func (m *Metrics) writeFailed(op string) {
	if m != nil {
		m.writeFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) rowsCleaned(n int64) {
	if m != nil && n > 0 {
		m.cleanupRows.Add(float64(n))
	}
}

func (m *Metrics) lanePanicked(lane string) {
	if m != nil {
		m.lanePanics.WithLabelValues(lane).Inc()
	}
}
