// Package metrics exposes per-jurisdiction capacity gauges.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	utilization  *prometheus.GaugeVec
	effectiveCap *prometheus.GaugeVec
	denied       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		utilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fundgate_capacity_utilized_capital",
			Help: "Cumulative utilized capital per jurisdiction.",
		}, []string{"jurisdiction"}),
		effectiveCap: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fundgate_capacity_effective_cap_capital",
			Help: "Current damped effective capacity per jurisdiction.",
		}, []string{"jurisdiction"}),
		denied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundgate_capacity_denials_total",
			Help: "Issuance requests denied by the capacity check.",
		}, []string{"jurisdiction"}),
	}
}

// Gauges take float64; precision loss on huge capital amounts is fine for
// observability.
func (m *Metrics) SetUtilization(jurisdiction string, amount *big.Int) {
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.utilization.WithLabelValues(jurisdiction).Set(f)
}

func (m *Metrics) SetEffectiveCap(jurisdiction string, amount *big.Int) {
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.effectiveCap.WithLabelValues(jurisdiction).Set(f)
}

func (m *Metrics) IncrementDenied(jurisdiction string) {
	m.denied.WithLabelValues(jurisdiction).Inc()
}
