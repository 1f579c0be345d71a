package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics aggregates the pool-side collectors: market operations,
// liquidation settlements and interest rate gauges.
type LendingMetrics struct {
	operations    *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	seizedValue   prometheus.Counter
	utilization   *prometheus.GaugeVec
	liquidityRate *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the lazily-initialised lending metrics registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of pool operations by kind and outcome.",
			}, []string{"operation", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_liquidations_total",
				Help: "Count of liquidation settlements by terminal state.",
			}, []string{"state"}),
			seizedValue: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_collateral_seized_base_total",
				Help: "Cumulative seized collateral valued in the oracle base currency.",
			}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_reserve_utilization",
				Help: "Current utilization ratio per reserve.",
			}, []string{"asset"}),
			liquidityRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_reserve_liquidity_rate",
				Help: "Current annual liquidity rate per reserve.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.liquidations,
			lendingRegistry.seizedValue,
			lendingRegistry.utilization,
			lendingRegistry.liquidityRate,
		)
	})
	return lendingRegistry
}

// ObserveOperation records one pool operation outcome.
func (m *LendingMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveLiquidation records a settlement reaching a terminal state.
func (m *LendingMetrics) ObserveLiquidation(state string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(state).Inc()
}

// AddSeizedValue accumulates seized collateral value.
func (m *LendingMetrics) AddSeizedValue(value float64) {
	if m == nil || value <= 0 {
		return
	}
	m.seizedValue.Add(value)
}

// SetReserveGauges publishes the reserve's utilization and liquidity rate.
func (m *LendingMetrics) SetReserveGauges(asset string, utilization, liquidityRate float64) {
	if m == nil {
		return
	}
	m.utilization.WithLabelValues(asset).Set(utilization)
	m.liquidityRate.WithLabelValues(asset).Set(liquidityRate)
}
