// Package metrics exposes Prometheus collectors for the trade lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TradesProposed counts trades created.
	TradesProposed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miniswap_trades_proposed_total",
		Help: "Number of trades proposed",
	})

	// TradesAgreed counts trades reaching mutual agreement.
	TradesAgreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miniswap_trades_agreed_total",
		Help: "Number of trades reaching mutual agreement",
	})

	// TradesCompleted counts fully executed swaps.
	TradesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miniswap_trades_completed_total",
		Help: "Number of trades whose dual transfer completed",
	})

	// TradesCancelled counts cancellations by reason.
	TradesCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "miniswap_trades_cancelled_total",
		Help: "Number of trades cancelled, by reason",
	}, []string{"reason"})

	// SwapCompensations counts compensating reversals after a failed
	// second transfer.
	SwapCompensations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miniswap_swap_compensations_total",
		Help: "Number of compensating reversals of the first transfer leg",
	})

	// SwapInconsistencies counts failed compensating reversals. Any
	// non-zero value means a registry and the ledger disagree.
	SwapInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "miniswap_swap_inconsistencies_total",
		Help: "Number of swaps left inconsistent after a failed reversal",
	})

	// SwapDuration observes the wall time of the dual-transfer executor.
	SwapDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "miniswap_swap_duration_seconds",
		Help:    "Duration of atomic exchange execution",
		Buckets: prometheus.DefBuckets,
	})
)

// Cancellation reasons.
const (
	ReasonParty     = "party"
	ReasonExpired   = "expired"
	ReasonOwnership = "ownership_changed"
)
