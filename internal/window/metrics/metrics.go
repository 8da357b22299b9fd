// Package metrics exposes redemption window counters.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	windowsOpened   prometheus.Counter
	claimsMinted    prometheus.Counter
	tokensQueued    prometheus.Counter
	capitalSettled  prometheus.Counter
	paymentFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		windowsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_windows_opened_total",
			Help: "Redemption windows opened.",
		}),
		claimsMinted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_window_claims_minted_total",
			Help: "Claims minted from pending redemption balances.",
		}),
		tokensQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_window_tokens_queued_wad",
			Help: "Tokens queued into redemption windows, WAD scale.",
		}),
		capitalSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_window_capital_settled",
			Help: "Capital paid out through claim settlements.",
		}),
		paymentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundgate_window_payment_failures_total",
			Help: "Custodial payment failures rolled back during settlement.",
		}),
	}
}

func (m *Metrics) WindowOpened() { m.windowsOpened.Inc() }
func (m *Metrics) ClaimMinted()  { m.claimsMinted.Inc() }

func (m *Metrics) TokensQueued(tokensWad *big.Int) {
	f, _ := new(big.Float).SetInt(tokensWad).Float64()
	m.tokensQueued.Add(f)
}

func (m *Metrics) CapitalSettled(capital *big.Int) {
	f, _ := new(big.Float).SetInt(capital).Float64()
	m.capitalSettled.Add(f)
}

func (m *Metrics) PaymentFailed() { m.paymentFailures.Inc() }
