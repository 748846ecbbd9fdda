package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sawpanic/marketmode/internal/domain"
)

// Registry holds the Prometheus metrics exported on /metrics.
type Registry struct {
	CollectionsTotal   *prometheus.CounterVec
	CollectionDuration prometheus.Histogram
	VotesTotal         *prometheus.CounterVec
	ModeChangesTotal   prometheus.Counter
	SchedulerTicks     prometheus.Counter
	CurrentMode        *prometheus.GaugeVec
}

// New registers all metrics on the given registerer.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		CollectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketmode_collections_total",
				Help: "Snapshot collection attempts by symbol and result",
			},
			[]string{"symbol", "result"},
		),
		CollectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketmode_collection_duration_seconds",
				Help:    "Duration of one snapshot collection including upstream fetches",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		VotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketmode_votes_total",
				Help: "Voting passes by symbol and resulting mode",
			},
			[]string{"symbol", "mode"},
		),
		ModeChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketmode_mode_changes_total",
				Help: "Published votes whose mode differs from the previous decision",
			},
		),
		SchedulerTicks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketmode_scheduler_ticks_total",
				Help: "Scheduler loop passes, including idle ones",
			},
		),
		CurrentMode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketmode_current_mode",
				Help: "Last voted mode per symbol, one-hot across mode labels",
			},
			[]string{"symbol", "mode"},
		),
	}

	reg.MustRegister(
		m.CollectionsTotal,
		m.CollectionDuration,
		m.VotesTotal,
		m.ModeChangesTotal,
		m.SchedulerTicks,
		m.CurrentMode,
	)
	return m
}

// SetMode updates the one-hot per-symbol mode gauge.
func (m *Registry) SetMode(symbol string, mode domain.Mode) {
	for _, candidate := range []domain.Mode{domain.ModeUp, domain.ModeDown, domain.ModeRange, domain.ModeNoConsensus} {
		val := 0.0
		if candidate == mode {
			val = 1.0
		}
		m.CurrentMode.WithLabelValues(symbol, string(candidate)).Set(val)
	}
}
