// Package metrics exposes Prometheus counters for the issuance
// orchestrator.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	minted          prometheus.Counter
	mintedTokens    prometheus.Counter
	rejected        *prometheus.CounterVec
	instantRedeemed prometheus.Counter
	queuedRedeemed  prometheus.Counter
	outstandingWad  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		minted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_issuance_minted_total",
			Help: "Successful issuance operations.",
		}),
		mintedTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_issuance_minted_tokens_wad",
			Help: "Tokens minted through issuance, WAD scale.",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundgate_issuance_rejected_total",
			Help: "Issuance requests rejected, by reason code.",
		}, []string{"reason"}),
		instantRedeemed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_redemptions_instant_total",
			Help: "Redemptions paid through the instant buffer.",
		}),
		queuedRedeemed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_redemptions_queued_total",
			Help: "Redemptions enqueued into a settlement window.",
		}),
		outstandingWad: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fundgate_outstanding_supply_wad",
			Help: "Outstanding token supply after the last issuance, WAD scale.",
		}),
	}
}

func (m *Metrics) Minted(tokensWad *big.Int) {
	m.minted.Inc()
	f, _ := new(big.Float).SetInt(tokensWad).Float64()
	m.mintedTokens.Add(f)
}

func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) InstantRedeemed() { m.instantRedeemed.Inc() }
func (m *Metrics) QueuedRedeemed()  { m.queuedRedeemed.Inc() }

func (m *Metrics) SetOutstanding(supplyWad *big.Int) {
	f, _ := new(big.Float).SetInt(supplyWad).Float64()
	m.outstandingWad.Set(f)
}
