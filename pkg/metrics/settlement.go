package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts money movements and gateway callbacks.
type SettlementMetrics struct {
	callbacks         *prometheus.CounterVec
	distributions     prometheus.Counter
	reversals         prometheus.Counter
	reversalFailures  prometheus.Counter
	payouts           prometheus.Counter
	commissionCredits prometheus.Counter
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Gateway callbacks received, by gateway, event and outcome.",
		}, []string{"gateway", "event", "outcome"}),
		distributions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_distributions_total",
			Help: "Orders whose commission was distributed to vendors.",
		}),
		reversals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_reversals_total",
			Help: "Orders whose commission was reversed after a refund.",
		}),
		reversalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_reversal_failures_total",
			Help: "Commission reversals that failed and need reconciliation.",
		}),
		payouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_payouts_total",
			Help: "Approved vendor payouts.",
		}),
		commissionCredits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_commission_credits_total",
			Help: "Individual vendor ledger credits written.",
		}),
	}
	reg.MustRegister(m.callbacks, m.distributions, m.reversals, m.reversalFailures, m.payouts, m.commissionCredits)
	return m
}

// ObserveCallback records a gateway callback outcome.
func (m *SettlementMetrics) ObserveCallback(gateway, event, outcome string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(gateway), normalizeLabel(event), normalizeLabel(outcome)).Inc()
}

// IncDistribution records one distributed order and its vendor credits.
func (m *SettlementMetrics) IncDistribution(credits int) {
	if m == nil || m.distributions == nil {
		return
	}
	m.distributions.Inc()
	m.commissionCredits.Add(float64(credits))
}

func (m *SettlementMetrics) IncReversal() {
	if m == nil || m.reversals == nil {
		return
	}
	m.reversals.Inc()
}

func (m *SettlementMetrics) IncReversalFailure() {
	if m == nil || m.reversalFailures == nil {
		return
	}
	m.reversalFailures.Inc()
}

func (m *SettlementMetrics) IncPayout() {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.Inc()
}
