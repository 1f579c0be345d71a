package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FlashLiqMetrics aggregates the flash liquidation orchestrator collectors.
type FlashLiqMetrics struct {
	settlements *prometheus.CounterVec
	premiums    prometheus.Counter
	swapInput   prometheus.Histogram
	duration    prometheus.Histogram
}

var (
	flashLiqOnce     sync.Once
	flashLiqRegistry *FlashLiqMetrics
)

// FlashLiq returns the lazily-initialised flash liquidation metrics registry.
func FlashLiq() *FlashLiqMetrics {
	flashLiqOnce.Do(func() {
		flashLiqRegistry = &FlashLiqMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "flashliq_settlements_total",
				Help: "Count of flash liquidation attempts by outcome.",
			}, []string{"outcome"}),
			premiums: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "flashliq_premiums_paid_total",
				Help: "Cumulative flash loan premiums repaid, in asset base units scaled to float.",
			}),
			swapInput: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "flashliq_swap_input_ratio",
				Help:    "Ratio of swap input consumed versus the oracle-implied amount.",
				Buckets: prometheus.LinearBuckets(0.9, 0.05, 10),
			}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "flashliq_settlement_duration_seconds",
				Help:    "Latency distribution of flash liquidation settlements.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			flashLiqRegistry.settlements,
			flashLiqRegistry.premiums,
			flashLiqRegistry.swapInput,
			flashLiqRegistry.duration,
		)
	})
	return flashLiqRegistry
}

// ObserveSettlement records a settlement outcome.
func (m *FlashLiqMetrics) ObserveSettlement(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

// AddPremium accumulates a repaid flash loan premium.
func (m *FlashLiqMetrics) AddPremium(premium float64) {
	if m == nil || premium <= 0 {
		return
	}
	m.premiums.Add(premium)
}

// ObserveSwapInputRatio records how much of the slippage budget a swap used.
func (m *FlashLiqMetrics) ObserveSwapInputRatio(ratio float64) {
	if m == nil || ratio <= 0 {
		return
	}
	m.swapInput.Observe(ratio)
}

// ObserveDuration records the wall-clock time of one settlement.
func (m *FlashLiqMetrics) ObserveDuration(seconds float64) {
	if m == nil || seconds < 0 {
		return
	}
	m.duration.Observe(seconds)
}
