package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DegradationLevel prometheus.Gauge
	UpdatesTotal     prometheus.Counter
	UpdatesRejected  *prometheus.CounterVec
	EmergencySets    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DegradationLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fundgate_oracle_degradation_level",
			Help: "Current oracle degradation level (0=normal 1=stale 2=degraded 3=emergency)",
		}),
		UpdatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_oracle_updates_total",
			Help: "Total number of accepted quorum NAV updates",
		}),
		UpdatesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundgate_oracle_updates_rejected_total",
			Help: "Total number of rejected NAV updates by reason code",
		}, []string{"reason"}),
		EmergencySets: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_oracle_emergency_sets_total",
			Help: "Total number of emergency NAV overrides",
		}),
	}
}

func (m *Metrics) SetLevel(level int) {
	m.DegradationLevel.Set(float64(level))
}

func (m *Metrics) IncrementUpdates() {
	m.UpdatesTotal.Inc()
}

func (m *Metrics) IncrementRejected(reason string) {
	m.UpdatesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementEmergencySets() {
	m.EmergencySets.Inc()
}
